package transcript

import (
	"strings"

	"node.town/parley/stt"
)

// Policy decides which final events close an utterance.
type Policy int

const (
	// FlushEachFinal completes an utterance on every non-empty final.
	FlushEachFinal Policy = iota
	// FlushOnEndpoint buffers finals until the service marks the end of speech.
	FlushOnEndpoint
)

func ParsePolicy(s string) (Policy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "final":
		return FlushEachFinal, true
	case "endpoint":
		return FlushOnEndpoint, true
	}
	return FlushEachFinal, false
}

func (p Policy) String() string {
	if p == FlushOnEndpoint {
		return "endpoint"
	}
	return "final"
}

type State int

const (
	Empty State = iota
	Accumulating
)

func (s State) String() string {
	if s == Accumulating {
		return "accumulating"
	}
	return "empty"
}

type Kind int

const (
	Ignored Kind = iota
	Interim
	Buffered
	Completed
)

func (k Kind) String() string {
	switch k {
	case Interim:
		return "interim"
	case Buffered:
		return "buffered"
	case Completed:
		return "completed"
	}
	return "ignored"
}

// Update is the observable result of applying one event.
type Update struct {
	Kind Kind
	Text string
}

// Assembler turns a stream of transcript events into completed utterances.
// It is not safe for concurrent use; one goroutine owns it.
type Assembler struct {
	policy  Policy
	buffer  []string
	preview string
}

func NewAssembler(policy Policy) *Assembler {
	return &Assembler{policy: policy}
}

func (a *Assembler) Apply(ev stt.Event) Update {
	text := strings.TrimSpace(ev.Text)

	if !ev.IsFinal {
		if text == "" {
			return Update{Kind: Ignored}
		}
		a.preview = text
		return Update{Kind: Interim, Text: text}
	}

	if text != "" {
		a.buffer = append(a.buffer, text)
	}

	if a.policy == FlushOnEndpoint {
		if !ev.SpeechFinal {
			if text == "" {
				return Update{Kind: Ignored}
			}
			a.preview = ""
			return Update{Kind: Buffered, Text: text}
		}
		if len(a.buffer) == 0 {
			return Update{Kind: Ignored}
		}
		return a.flush()
	}

	if text == "" {
		return Update{Kind: Ignored}
	}
	return a.flush()
}

func (a *Assembler) flush() Update {
	joined := strings.Join(a.buffer, " ")
	a.buffer = a.buffer[:0]
	a.preview = ""
	return Update{Kind: Completed, Text: joined}
}

func (a *Assembler) State() State {
	if len(a.buffer) > 0 {
		return Accumulating
	}
	return Empty
}

// Preview is the latest interim text, cleared by the next final.
func (a *Assembler) Preview() string {
	return a.preview
}

// Pending is the finalized text not yet flushed.
func (a *Assembler) Pending() string {
	return strings.Join(a.buffer, " ")
}

// Reset discards buffered text and the preview.
func (a *Assembler) Reset() {
	a.buffer = a.buffer[:0]
	a.preview = ""
}
