// Documentation: https://ascom-standards.org/api/

package alpaca

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// Global transaction counter
var txCounter atomic.Uint32

type baseResponse struct {
	ClientTransactionID uint32 `json:"ClientTransactionID"`
	ServerTransactionID uint32 `json:"ServerTransactionID"`
	ErrorNumber         int    `json:"ErrorNumber"`
	ErrorMessage        string `json:"ErrorMessage"`
	Value               any    `json:"Value,omitempty"`
}

// handlerFunc computes the Value of an Alpaca response.
type handlerFunc func(r *http.Request) (any, error)

// handleMgm serves a management API endpoint.
func handleMgm(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value, err := fn(r)
		writeResponse(w, r, value, err)
	})
}

// handleAPI serves a device API endpoint. Parameter errors are reported as
// HTTP 400, device errors inside the Alpaca response.
func handleAPI(fn handlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := getClientTxID(r); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		value, err := fn(r)
		var perr *paramError
		if errors.As(err, &perr) {
			http.Error(w, perr.Error(), http.StatusBadRequest)
			return
		}
		writeResponse(w, r, value, err)
	})
}

func writeResponse(w http.ResponseWriter, r *http.Request, value any, err error) {
	txID, _ := getClientTxID(r)

	response := baseResponse{
		ServerTransactionID: txCounter.Add(1),
		ClientTransactionID: txID,
	}
	if err != nil {
		response.ErrorNumber, response.ErrorMessage = errorCode(err), err.Error()
	} else if value != nil {
		response.Value = value
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// paramError is a malformed or missing request parameter.
type paramError struct {
	name string
	err  error
}

func (e *paramError) Error() string {
	return fmt.Sprintf("parameter %s: %v", e.name, e.err)
}

// requestParams returns the body parameters of a PUT request or the query
// parameters of any other request.
func requestParams(r *http.Request) (url.Values, error) {
	if r.Method != http.MethodPut {
		return r.URL.Query(), nil
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	// Reset the body so it can be read again later.
	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
	return url.ParseQuery(string(bodyBytes))
}

// lookupParam finds a parameter. Names are matched case-insensitively in
// queries and exactly in PUT bodies.
func lookupParam(r *http.Request, name string) (string, bool, error) {
	params, err := requestParams(r)
	if err != nil {
		return "", false, err
	}
	if v, ok := params[name]; ok && len(v) > 0 {
		return v[0], true, nil
	}
	if r.Method == http.MethodPut {
		return "", false, nil
	}
	for key, v := range params {
		if strings.EqualFold(key, name) && len(v) > 0 {
			return v[0], true, nil
		}
	}
	return "", false, nil
}

// getClientTxID reads the optional ClientTransactionID parameter.
func getClientTxID(r *http.Request) (uint32, error) {
	params, err := requestParams(r)
	if err != nil {
		return 0, err
	}
	for key, v := range params {
		if strings.EqualFold(key, "ClientTransactionID") && len(v) > 0 {
			id, err := strconv.ParseUint(v[0], 10, 32)
			if err != nil {
				return 0, errors.New("ClientTransactionID must be a non-negative integer")
			}
			return uint32(id), nil
		}
	}
	return 0, nil
}

func parseRequest(r *http.Request, name string) (string, error) {
	value, ok, err := lookupParam(r, name)
	if err != nil {
		return "", &paramError{name, err}
	}
	if !ok {
		return "", &paramError{name, errors.New("missing")}
	}
	return value, nil
}

func parseBoolRequest(r *http.Request, name string) (bool, error) {
	value, err := parseRequest(r, name)
	if err != nil {
		return false, err
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, &paramError{name, err}
	}
	return b, nil
}

func parseFloatRequest(r *http.Request, name string) (float64, error) {
	value, err := parseRequest(r, name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, &paramError{name, err}
	}
	return f, nil
}

func parseIntRequest(r *http.Request, name string) (int, error) {
	value, err := parseRequest(r, name)
	if err != nil {
		return 0, err
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, &paramError{name, err}
	}
	return i, nil
}

// formatUTCDate renders a time the way Alpaca clients expect it.
func formatUTCDate(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.0000000Z")
}
