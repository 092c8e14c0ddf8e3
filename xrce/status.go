package xrce

import "fmt"

// LastOp tags the kind of operation a ResultStatus answers.
type LastOp uint8

const (
	StatusLastOpNone   LastOp = 0x00
	StatusLastOpCreate LastOp = 0x01
	StatusLastOpUpdate LastOp = 0x02
	StatusLastOpDelete LastOp = 0x03
	StatusLastOpLookup LastOp = 0x04
	StatusLastOpRead   LastOp = 0x05
	StatusLastOpWrite  LastOp = 0x06
)

func (op LastOp) String() string {
	switch op {
	case StatusLastOpNone:
		return "NONE"
	case StatusLastOpCreate:
		return "CREATE"
	case StatusLastOpUpdate:
		return "UPDATE"
	case StatusLastOpDelete:
		return "DELETE"
	case StatusLastOpLookup:
		return "LOOKUP"
	case StatusLastOpRead:
		return "READ"
	case StatusLastOpWrite:
		return "WRITE"
	default:
		return fmt.Sprintf("LAST_OP(0x%02x)", uint8(op))
	}
}

// ImplStatus is the fine grained outcome of an operation. Values follow the
// DDS-XRCE status codes; errors have the high bit set.
type ImplStatus uint8

const (
	StatusOK                  ImplStatus = 0x00
	StatusOKMatched           ImplStatus = 0x01
	StatusErrDDSError         ImplStatus = 0x80
	StatusErrMismatch         ImplStatus = 0x81
	StatusErrAlreadyExists    ImplStatus = 0x82
	StatusErrDenied           ImplStatus = 0x83
	StatusErrUnknownReference ImplStatus = 0x84
	StatusErrInvalidData      ImplStatus = 0x85
	StatusErrIncompatible     ImplStatus = 0x86
	StatusErrResources        ImplStatus = 0x87
)

var implStatusNames = map[ImplStatus]string{
	StatusOK:                  "OK",
	StatusOKMatched:           "OK_MATCHED",
	StatusErrDDSError:         "ERR_DDS_ERROR",
	StatusErrMismatch:         "ERR_MISMATCH",
	StatusErrAlreadyExists:    "ERR_ALREADY_EXISTS",
	StatusErrDenied:           "ERR_DENIED",
	StatusErrUnknownReference: "ERR_UNKNOWN_REFERENCE",
	StatusErrInvalidData:      "ERR_INVALID_DATA",
	StatusErrIncompatible:     "ERR_INCOMPATIBLE",
	StatusErrResources:        "ERR_RESOURCES",
}

func (s ImplStatus) String() string {
	if name, ok := implStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATUS(0x%02x)", uint8(s))
}

// IsError reports whether s denotes a failed operation.
func (s ImplStatus) IsError() bool { return s&0x80 != 0 }

// ResultStatus is the uniform answer of every mutating operation. It is a
// value type: a fresh one is produced for each call and never mutated after
// it is returned.
type ResultStatus struct {
	RequestID      RequestID  `json:"request_id"`
	Status         LastOp     `json:"status"`
	Implementation ImplStatus `json:"implementation_status"`
}

// NewResultStatus builds a ResultStatus.
func NewResultStatus(id RequestID, op LastOp, impl ImplStatus) ResultStatus {
	return ResultStatus{RequestID: id, Status: op, Implementation: impl}
}

// OK reports whether the operation succeeded.
func (r ResultStatus) OK() bool { return !r.Implementation.IsError() }

func (r ResultStatus) String() string {
	return fmt.Sprintf("%s/%s (request %d)", r.Status, r.Implementation, r.RequestID)
}
