package channel

// Caps are static capabilities fixed at channel initialization.
type Caps uint32

const (
	// CapInput marks a channel that produces incoming data.
	CapInput Caps = 1 << 2
	// CapOutput marks a channel that accepts posts.
	CapOutput Caps = 1 << 3
	// CapInOut combines input and output.
	CapInOut Caps = CapInput | CapOutput
	// CapProxy marks a pass-through channel wrapping another.
	CapProxy Caps = 1 << 23
	// CapCustom marks an internally created channel, excluded from the
	// public name index.
	CapCustom Caps = 1 << 24
)

// DCaps are dynamic capabilities that may change at runtime. Every change
// is announced with a Channel/ChannelUpdate message whose Obj payload is
// the previous value.
type DCaps uint32

const (
	// DCapPollIn asks the loop to poll the fd for incoming data.
	DCapPollIn DCaps = 1 << 0
	// DCapPollOut asks the loop to poll the fd for write readiness.
	DCapPollOut DCaps = 1 << 1
	// DCapPollMask covers both poll bits.
	DCapPollMask DCaps = DCapPollIn | DCapPollOut

	// DCapProcess asks the loop to call Process when idle.
	DCapProcess DCaps = 1 << 4
	// DCapPending marks buffered work not visible through the fd.
	DCapPending DCaps = 1 << 5
	// DCapSuspend marks a suspended channel.
	DCapSuspend DCaps = 1 << 6
	// DCapSuspendPermanent marks a channel suspended explicitly, as
	// opposed to one suspended through an ancestor. Resume of an
	// ancestor does not clear it.
	DCapSuspendPermanent DCaps = 1 << 7
)

// NeedProcess reports whether Process should reach the implementation:
// the Process bit is armed and the channel is not suspended.
func (d DCaps) NeedProcess() bool {
	return d&DCapProcess != 0 && d&DCapSuspend == 0
}

// Suspended reports whether the suspend bit is set.
func (d DCaps) Suspended() bool { return d&DCapSuspend != 0 }
