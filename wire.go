package authcore

// RefreshRequest is the body of POST /auth/refresh and POST /auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// ErrorBody is the JSON body of every failed auth response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

var wireMessages = map[ErrorKind]string{
	KindExpired:     "token expired",
	KindRevoked:     "token revoked",
	KindMalformed:   "token invalid",
	KindForbidden:   "permission denied",
	KindRateLimited: "too many refresh attempts",
	KindUnavailable: "service unavailable",
}

// NewErrorBody builds the response body for err. Messages are fixed per kind
// so nothing about keys or stored state leaks to the client.
func NewErrorBody(err error) ErrorBody {
	kind := WireKind(err)
	return ErrorBody{Error: ErrorDetail{Kind: kind, Message: wireMessages[kind]}}
}
