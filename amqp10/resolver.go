package amqp10

import (
	"context"
	"strings"
)

// distributionMode is the 1.0 distribution-mode implied by an address:
// "move" for a queue (competing consumers drain it), "copy" for an
// exchange (every bound consumer gets its own copy).
type distributionMode string

const (
	distributionMove distributionMode = "move"
	distributionCopy distributionMode = "copy"
)

// resolvedNode is what address resolution produces: enough for the
// caller (an incoming or outgoing link attach) to publish or subscribe,
// plus what to report back to the peer when the node was dynamically
// created.
type resolvedNode struct {
	exchange         string // "" means the default exchange
	routingKey       *string
	queue            string // only set when the node resolves to a concrete queue (subscribe target)
	distribution     distributionMode
	renderedAddress  string
}

// resolveTarget implements the target half of the address grammar from
// §4.1: "/queue", "/queue/NAME", "/exchange/NAME", "/exchange/NAME/RK".
// dynamic requests a fresh auto-delete queue when address is empty.
func resolveTarget(ctx context.Context, backend Backend, address string, dynamic bool) (resolvedNode, error) {
	if dynamic {
		if address != "" {
			return resolvedNode{}, newSessionError(KindInvalidField, 0, nil,
				"attach: both dynamic and address supplied")
		}
		name, err := backend.DeclareAutoDeleteQueue(ctx)
		if err != nil {
			return resolvedNode{}, newSessionError(KindInternalError, 0, err, "declare dynamic target queue")
		}
		return resolvedNode{
			exchange:        "",
			routingKey:      &name,
			queue:           name,
			distribution:    distributionMove,
			renderedAddress: renderQueueAddress(name),
		}, nil
	}

	segs, err := splitAddress(address)
	if err != nil {
		return resolvedNode{}, err
	}

	switch segs.kind {
	case "queue":
		if segs.name == "" {
			// bare "/queue": routing key comes from the message Subject
			// at transfer time, exchange is the default exchange.
			return resolvedNode{exchange: "", distribution: distributionMove, renderedAddress: address}, nil
		}
		if err := backend.DeclareQueuePassive(ctx, segs.name); err != nil {
			return resolvedNode{}, newSessionError(KindNotFound, 0, err, "target queue %q not found", segs.name)
		}
		return resolvedNode{
			exchange:        "",
			routingKey:      &segs.name,
			queue:           segs.name,
			distribution:    distributionMove,
			renderedAddress: address,
		}, nil
	case "exchange":
		if segs.name == "" {
			return resolvedNode{}, newSessionError(KindInvalidField, 0, nil, "attach: unknown address %q", address)
		}
		if err := backend.DeclareExchangePassive(ctx, segs.name); err != nil {
			return resolvedNode{}, newSessionError(KindNotFound, 0, err, "target exchange %q not found", segs.name)
		}
		rk := segs.routingKey
		var rkPtr *string
		if segs.hasRoutingKey {
			rkPtr = &rk
		}
		return resolvedNode{
			exchange:        segs.name,
			routingKey:      rkPtr,
			distribution:    distributionCopy,
			renderedAddress: address,
		}, nil
	default:
		return resolvedNode{}, newSessionError(KindInvalidField, 0, nil, "attach: unknown address %q", address)
	}
}

// resolveSource implements the source half of the grammar:
// "/queue/NAME", "/exchange/NAME/RK". dynamic requests a fresh
// auto-delete queue; for an exchange source it is also bound under the
// given (or generated) routing key.
func resolveSource(ctx context.Context, backend Backend, address string, dynamic bool) (resolvedNode, error) {
	if dynamic {
		if address != "" {
			return resolvedNode{}, newSessionError(KindInvalidField, 0, nil,
				"attach: both dynamic and address supplied")
		}
		name, err := backend.DeclareAutoDeleteQueue(ctx)
		if err != nil {
			return resolvedNode{}, newSessionError(KindInternalError, 0, err, "declare dynamic source queue")
		}
		return resolvedNode{
			queue:           name,
			distribution:    distributionMove,
			renderedAddress: renderQueueAddress(name),
		}, nil
	}

	segs, err := splitAddress(address)
	if err != nil {
		return resolvedNode{}, err
	}

	switch segs.kind {
	case "queue":
		if segs.name == "" {
			return resolvedNode{}, newSessionError(KindInvalidField, 0, nil, "source: queue name required")
		}
		if err := backend.DeclareQueuePassive(ctx, segs.name); err != nil {
			return resolvedNode{}, newSessionError(KindNotFound, 0, err, "source queue %q not found", segs.name)
		}
		return resolvedNode{
			queue:           segs.name,
			distribution:    distributionMove,
			renderedAddress: address,
		}, nil
	case "exchange":
		if segs.name == "" || !segs.hasRoutingKey {
			return resolvedNode{}, newSessionError(KindInvalidField, 0, nil,
				"source: exchange address requires a routing key")
		}
		if err := backend.DeclareExchangePassive(ctx, segs.name); err != nil {
			return resolvedNode{}, newSessionError(KindNotFound, 0, err, "source exchange %q not found", segs.name)
		}
		// An exchange source has no queue of its own: a private
		// auto-delete queue is declared and bound, and that private
		// queue is what the outgoing-link consumer actually subscribes
		// to.
		privateQueue, err := backend.DeclareAutoDeleteQueue(ctx)
		if err != nil {
			return resolvedNode{}, newSessionError(KindInternalError, 0, err, "declare private subscription queue")
		}
		if err := backend.BindQueue(ctx, privateQueue, segs.name, segs.routingKey); err != nil {
			return resolvedNode{}, newSessionError(KindInternalError, 0, err, "bind private subscription queue")
		}
		return resolvedNode{
			queue:           privateQueue,
			distribution:    distributionCopy,
			renderedAddress: address,
		}, nil
	default:
		return resolvedNode{}, newSessionError(KindInvalidField, 0, nil, "attach: unknown address %q", address)
	}
}

func renderQueueAddress(name string) string {
	return "/queue/" + name
}

type addressSegments struct {
	kind          string
	name          string
	routingKey    string
	hasRoutingKey bool
}

// splitAddress parses the grammar: the first "/"-delimited segment must
// be empty, the second is the type discriminator ("queue" or
// "exchange"), the third (if present) is the name, and for exchanges a
// fourth segment is the routing key.
func splitAddress(address string) (addressSegments, error) {
	parts := strings.Split(address, "/")
	if len(parts) < 2 || parts[0] != "" {
		return addressSegments{}, newSessionError(KindInvalidField, 0, nil, "attach: unknown address %q", address)
	}

	segs := addressSegments{kind: parts[1]}
	switch segs.kind {
	case "queue":
		if len(parts) >= 3 {
			segs.name = strings.Join(parts[2:], "/")
		}
	case "exchange":
		if len(parts) >= 3 {
			segs.name = parts[2]
		}
		if len(parts) >= 4 {
			segs.routingKey = strings.Join(parts[3:], "/")
			segs.hasRoutingKey = true
		}
	default:
		return addressSegments{}, newSessionError(KindInvalidField, 0, nil, "attach: unknown address %q", address)
	}
	return segs, nil
}
