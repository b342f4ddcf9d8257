package events

// Buffer holds events raised while a command executes so they can be released
// only once the command's state changes are committed.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(evt Event) {
	if b == nil || evt == nil {
		return
	}
	b.pending = append(b.pending, evt)
}

// Flush forwards buffered events to the emitter and clears the buffer.
func (b *Buffer) Flush(to Emitter) []Event {
	if b == nil {
		return nil
	}
	flushed := b.pending
	b.pending = nil
	if to != nil {
		for _, evt := range flushed {
			to.Emit(evt)
		}
	}
	return flushed
}

// Reset drops every buffered event.
func (b *Buffer) Reset() {
	if b != nil {
		b.pending = nil
	}
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.pending)
}
