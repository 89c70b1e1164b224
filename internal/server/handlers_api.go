package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jbweber/marionette/internal/action"
	"github.com/jbweber/marionette/internal/session"
)

var callbackPattern = regexp.MustCompile(`^[\[\]A-Za-z0-9_.$]{1,50}$`)

// apiResponse is the body of every /api call. Results carries the slots
// gathered before an isolated batch was aborted.
type apiResponse struct {
	Success bool            `json:"success"`
	Result  any             `json:"result,omitempty"`
	Results []action.Result `json:"results,omitempty"`
}

// apiFunc runs one API call with the decoded data arguments.
type apiFunc func(ctx context.Context, sess *session.Session, args []any) (any, []action.Result, error)

// api decodes the data query parameter, runs fn under the session's batch
// lock and answers with an apiResponse. Failures are reported in the body
// with success=false; the status is always 200.
func (s *Server) api(name string, fn apiFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := sessionFrom(r)
		data := r.URL.Query().Get("data")

		var (
			result  any
			partial []action.Result
		)
		err := decodeData(data, func(args []any) error {
			return sess.Serialize(func() error {
				if sess.Closed() {
					return fmt.Errorf("%w: session %s is closed", session.ErrNotReady, sess.ID())
				}
				var err error
				result, partial, err = fn(r.Context(), sess, args)
				return err
			})
		})

		resp := apiResponse{Success: err == nil, Result: result}
		if err != nil {
			sess.Log().WithError(err).Warnf("%s failed", name)
			resp.Result = fmt.Sprintf("%v when executing %s with data %s", err, name, data)
			resp.Results = partial
		}
		writeAPI(w, r.URL.Query().Get("callback"), resp)
	}
}

func decodeData(data string, fn func(args []any) error) error {
	var args []any
	if data != "" {
		if err := json.Unmarshal([]byte(data), &args); err != nil {
			return fmt.Errorf("%w: data must be a JSON array: %v", action.ErrInvalidArgument, err)
		}
	}
	return fn(args)
}

// writeAPI sends resp uncached, as JSON-P when callback is a valid function
// reference and as JSON otherwise.
func writeAPI(w http.ResponseWriter, callback string, resp apiResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		body, _ = json.Marshal(apiResponse{Result: err.Error()})
	}

	h := w.Header()
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "Tue, 01 Jan 1970 00:00:00 GMT")

	if callbackPattern.MatchString(callback) {
		h.Set("Content-Type", "application/javascript; charset=utf-8")
		h.Set("X-Content-Type-Options", "nosniff")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "/**/ %s(%s);", callback, body)
		return
	}
	h.Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// batchArg returns the action batch passed as the first data argument.
func batchArg(args []any) ([][]any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: expected an action list as first argument", action.ErrInvalidArgument)
	}
	list, ok := args[0].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected an action list, got %T", action.ErrInvalidArgument, args[0])
	}
	raw := make([][]any, len(list))
	for i, item := range list {
		a, ok := item.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: action %d must be an array, got %T", action.ErrInvalidArgument, i, item)
		}
		raw[i] = a
	}
	return raw, nil
}

func (s *Server) execute(w http.ResponseWriter, r *http.Request) {
	s.api("execute", func(ctx context.Context, sess *session.Session, args []any) (any, []action.Result, error) {
		raw, err := batchArg(args)
		if err != nil {
			return nil, nil, err
		}
		actions, err := action.ParseBatch(raw)
		if err != nil {
			return nil, nil, err
		}
		exec, err := s.executor(sess.Resource().GetLayout())
		if err != nil {
			return nil, nil, err
		}
		out, err := exec.Execute(ctx, sess, actions)
		return out, nil, err
	})(w, r)
}

func (s *Server) executeIsolated(w http.ResponseWriter, r *http.Request) {
	s.api("executeIsolated", func(ctx context.Context, sess *session.Session, args []any) (any, []action.Result, error) {
		raw, err := batchArg(args)
		if err != nil {
			return nil, nil, err
		}
		exec, err := s.executor(sess.Resource().GetLayout())
		if err != nil {
			return nil, nil, err
		}
		results, err := exec.ExecuteIsolated(ctx, sess, raw)
		if err != nil {
			return nil, results, err
		}
		return results, nil, nil
	})(w, r)
}
