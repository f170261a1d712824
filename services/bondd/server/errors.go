package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"dualbond/native/bank"
	"dualbond/native/bond"
)

type problem struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, problem{Error: msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, bond.ErrZeroAmount),
		errors.Is(err, bond.ErrInvalidParams),
		errors.Is(err, bond.ErrInvalidPrice),
		errors.Is(err, bond.ErrInvalidSchedule):
		return http.StatusBadRequest
	case errors.Is(err, bond.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, errNotFound), errors.Is(err, bank.ErrUnknownAsset):
		return http.StatusNotFound
	case errors.Is(err, bond.ErrNotMatured),
		errors.Is(err, bond.ErrIssuanceClosed),
		errors.Is(err, bond.ErrOracleFrozen),
		errors.Is(err, bond.ErrOracleNotSet):
		return http.StatusConflict
	case errors.Is(err, bond.ErrCapExceeded),
		errors.Is(err, bond.ErrInsufficientBalance),
		errors.Is(err, bond.ErrOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, bond.ErrOracleReadFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

var (
	errBadRequest = errors.New("bad request")
	errNotFound   = errors.New("not found")
)
