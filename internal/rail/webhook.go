package rail

import "strings"

// Webhook is the provider's notification body. Only the fields the ledger
// acts on are decoded.
type Webhook struct {
	Type          string         `json:"webhook_type"`
	Code          string         `json:"webhook_code"`
	TransferID    string         `json:"transfer_id"`
	ItemID        string         `json:"item_id,omitempty"`
	Event         *TransferEvent `json:"transfer_event,omitempty"`
	FailureReason *Description   `json:"failure_reason,omitempty"`
	ReturnCode    *Description   `json:"return_code,omitempty"`
}

type TransferEvent struct {
	EventType     string       `json:"event_type"`
	FailureReason *Description `json:"failure_reason,omitempty"`
}

type Description struct {
	Code        string `json:"code,omitempty"`
	Description string `json:"description"`
}

func (d *Description) text() string {
	if d == nil {
		return ""
	}
	return d.Description
}

// IsTransfer reports whether the webhook concerns a transfer. Other types,
// such as ITEM, carry nothing for the ledger.
func (w Webhook) IsTransfer() bool {
	return w.Type == "TRANSFER"
}

// TransferStatus extracts the reported status and failure description.
// Unrecognised codes read as pending.
func (w Webhook) TransferStatus() (Status, string) {
	switch w.Code {
	case "TRANSFER_EVENTS_UPDATE":
		if w.Event == nil {
			return StatusPending, ""
		}
		return Status(strings.ToLower(w.Event.EventType)), w.Event.FailureReason.text()
	case "TRANSFER_POSTED":
		return StatusPosted, ""
	case "TRANSFER_FAILED":
		return StatusFailed, w.FailureReason.text()
	case "TRANSFER_CANCELLED":
		return StatusCancelled, ""
	case "TRANSFER_RETURNED":
		return StatusReturned, w.ReturnCode.text()
	}
	return StatusPending, ""
}
