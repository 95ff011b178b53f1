package gqlpipe

// NextLink hands an operation to the rest of the pipeline.
type NextLink func(op *Operation) *Stream

// Link is one stage of the operation pipeline. A link may inspect or
// modify the operation, call forward, and observe the resulting stream.
// Terminal links ignore forward.
type Link interface {
	Request(op *Operation, forward NextLink) *Stream
}

// LinkFunc adapts a function to Link.
type LinkFunc func(op *Operation, forward NextLink) *Stream

func (f LinkFunc) Request(op *Operation, forward NextLink) *Stream {
	return f(op, forward)
}

// From chains links in order. The last link must be terminal.
func From(links ...Link) Link {
	return LinkFunc(func(op *Operation, forward NextLink) *Stream {
		return chain(links, forward)(op)
	})
}

func chain(links []Link, tail NextLink) NextLink {
	if len(links) == 0 {
		return tail
	}
	next := chain(links[1:], tail)
	return func(op *Operation) *Stream {
		return links[0].Request(op, next)
	}
}

// Split sends an operation to left when test holds and to right otherwise.
// Only one side ever sees the operation.
func Split(test func(op *Operation) bool, left, right Link) Link {
	return LinkFunc(func(op *Operation, forward NextLink) *Stream {
		if test(op) {
			return left.Request(op, forward)
		}
		return right.Request(op, forward)
	})
}

// NewTransportRouter routes subscriptions to socket and everything else to
// http. The decision depends on the document alone.
func NewTransportRouter(socket, http Link) Link {
	return LinkFunc(func(op *Operation, forward NextLink) *Stream {
		switch op.Kind {
		case KindSubscription:
			return socket.Request(op, forward)
		default:
			return http.Request(op, forward)
		}
	})
}

// execute runs op through a pipeline whose last link is terminal.
func execute(link Link, op *Operation) *Stream {
	return link.Request(op, func(op *Operation) *Stream {
		return errorStream(errNoTerminatingLink)
	})
}
