package domain

// Holding is one position of a portfolio. Stored holdings always have a
// positive Quantity.
type Holding struct {
	Item     string
	Quantity int64
}

// Update describes a single change of a holding. OldQty == 0 means the
// item was not held before; Qty == 0 means the position was liquidated.
type Update struct {
	Item   string
	Qty    int64
	OldQty int64
}

// UpdateCommand classifies an update for receivers that only track
// current quantities.
type UpdateCommand string

const (
	CommandAdd    UpdateCommand = "ADD"
	CommandUpdate UpdateCommand = "UPDATE"
	CommandDelete UpdateCommand = "DELETE"
)

// Command derives the receiver-side command from the update.
func (u Update) Command() UpdateCommand {
	switch {
	case u.Qty == 0:
		return CommandDelete
	case u.OldQty == 0:
		return CommandAdd
	default:
		return CommandUpdate
	}
}
