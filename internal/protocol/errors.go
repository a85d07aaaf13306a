package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Request layer.
	ErrBadRequest     = "E_BAD_REQUEST"
	ErrInvalidAddress = "E_INVALID_ADDRESS"
	ErrNoCapacity     = "E_NO_CAPACITY"
	ErrNotFound       = "E_NOT_FOUND"
	ErrInternal       = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrBadRequest:      {},
	ErrInvalidAddress:  {},
	ErrNoCapacity:      {},
	ErrNotFound:        {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
