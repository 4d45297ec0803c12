package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this after closing a [Stream] so that an implementation blocked on
// delivering a final frame can exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
