package host

type Axis int

const (
	MoveX Axis = iota
	MoveY
)

func (a Axis) String() string {
	if a == MoveY {
		return "move_y"
	}
	return "move_x"
}

type Button int

const (
	Jump Button = iota
	Dash
	Grab
	Talk
	CrouchDash
)

// Buttons lists every digital control on the virtual device.
var Buttons = []Button{Jump, Dash, Grab, Talk, CrouchDash}

func (b Button) String() string {
	switch b {
	case Jump:
		return "jump"
	case Dash:
		return "dash"
	case Grab:
		return "grab"
	case Talk:
		return "talk"
	case CrouchDash:
		return "crouch_dash"
	default:
		return "unknown"
	}
}

// Input is the engine's virtual control device. Range enforcement on axis
// values is the device's business.
type Input interface {
	SetAxis(a Axis, v float64)
	Neutral(a Axis)
	Press(b Button)
	Release(b Button)
}
