package amqp10

// Tunable constants from the backing-channel contract (see §6 of the
// session-core design this package implements).
const (
	// MaxSessionBufferSize is the hard ceiling on the session window size
	// this side will ever advertise, regardless of what the peer asks for.
	MaxSessionBufferSize = 4096

	// IncomingCredit is the link-credit an incoming link is granted on
	// attach, and again every time it is replenished.
	IncomingCredit = 65536

	// incomingCreditReplenishThreshold is the point at which credit_used
	// triggers a flow carrying a fresh IncomingCredit grant.
	incomingCreditReplenishThreshold = IncomingCredit / 2

	// dynamicNodeLifetime is the only dynamic-node lifetime policy this
	// session core implements: dynamic queues are always declared
	// auto-delete. The lifetime a peer requests is not read from the
	// attach, so no other policy is checked or rejected.
	dynamicNodeLifetime = "delete-on-close"
)

// incomingUnsettledEntry correlates a backing-channel publish with the
// 1.0 transfer that produced it.
type incomingUnsettledEntry struct {
	publishID  uint64
	transferID uint32
}

// incomingUnsettled is the ordered map described in §3: keys (publish
// ids) are assigned in strictly increasing order by the session, so a
// plain append-only slice preserves that order for free and lets a
// multiple=true confirm drain its prefix in O(k).
type incomingUnsettled struct {
	entries []incomingUnsettledEntry
}

func (u *incomingUnsettled) put(publishID uint64, transferID uint32) {
	u.entries = append(u.entries, incomingUnsettledEntry{publishID: publishID, transferID: transferID})
}

func (u *incomingUnsettled) len() int { return len(u.entries) }

// removeUpTo pops every entry whose publish id is <= upTo, in ascending
// order, and returns them.
func (u *incomingUnsettled) removeUpTo(upTo uint64) []incomingUnsettledEntry {
	i := 0
	for i < len(u.entries) && u.entries[i].publishID <= upTo {
		i++
	}
	removed := u.entries[:i]
	u.entries = u.entries[i:]
	return removed
}

// outgoingUnsettledEntry correlates an emitted transfer with the broker
// delivery it came from, and the outcome to apply if the peer never
// disposes of it explicitly.
type outgoingUnsettledEntry struct {
	deliveryTag    uint64
	defaultOutcome Outcome
}

// outgoingUnsettled is keyed by outgoing transfer-id. Transfer-ids are
// serial numbers, so min/max bookkeeping goes through serialLess rather
// than plain integer comparison.
type outgoingUnsettled struct {
	entries map[uint32]outgoingUnsettledEntry
}

func newOutgoingUnsettled() *outgoingUnsettled {
	return &outgoingUnsettled{entries: make(map[uint32]outgoingUnsettledEntry)}
}

func (u *outgoingUnsettled) put(transferID uint32, entry outgoingUnsettledEntry) {
	u.entries[transferID] = entry
}

func (u *outgoingUnsettled) get(transferID uint32) (outgoingUnsettledEntry, bool) {
	e, ok := u.entries[transferID]
	return e, ok
}

func (u *outgoingUnsettled) delete(transferID uint32) {
	delete(u.entries, transferID)
}

func (u *outgoingUnsettled) len() int { return len(u.entries) }

// bounds returns the lowest and highest transfer-id currently tracked.
func (u *outgoingUnsettled) bounds() (lwm, hwm uint32, ok bool) {
	first := true
	for t := range u.entries {
		if first {
			lwm, hwm = t, t
			first = false
			continue
		}
		if serialLess(t, lwm) {
			lwm = t
		}
		if serialLess(hwm, t) {
			hwm = t
		}
	}
	return lwm, hwm, !first
}

// incomingLink is per-link state for a link on which the peer is the
// sender (messages flow peer -> broker).
type incomingLink struct {
	handle     uint32
	name       string
	exchange   string
	routingKey *string // nil means "use the message Subject"

	deliveryCount uint32
	creditUsed    uint32

	requiresConfirm bool

	// mode is the negotiated sender-settle-mode for this link. It is
	// consulted alongside requiresConfirm because mixed mode lets an
	// individual Transfer override the link's default via its own
	// settled field.
	mode SenderSettleMode

	// pendingTransferID is the transfer-id of the transfer currently being
	// reassembled, captured from the first frame's delivery-id (continuation
	// frames omit it).
	pendingTransferID uint32

	// fragments accumulates payload bytes from transfers carrying
	// more=true until the terminating more=false transfer arrives.
	fragments [][]byte
}

func (l *incomingLink) appendFragment(payload []byte) {
	l.fragments = append(l.fragments, payload)
}

func (l *incomingLink) drainFragments() []byte {
	total := 0
	for _, f := range l.fragments {
		total += len(f)
	}
	out := make([]byte, 0, total)
	for _, f := range l.fragments {
		out = append(out, f...)
	}
	l.fragments = nil
	return out
}

// outgoingLink is per-link state for a link on which the peer is the
// receiver (messages flow broker -> peer).
type outgoingLink struct {
	handle uint32
	name   string

	queue          string
	consumerTag    string
	transferCount  uint32
	noAck          bool
	defaultOutcome Outcome
	outcomes       []Outcome
}
