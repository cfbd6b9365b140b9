package httpx

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

// AuthKeyHeader carries the admin shared secret.
const AuthKeyHeader = "X-Auth-Key"

// adminBodyLimit bounds admin request bodies; a reset listing every stored
// story stays far below it.
const adminBodyLimit = 1 << 20

// Admin command types accepted on POST /internal.
const (
	CommandAdd    = "add"
	CommandRemove = "remove"
	CommandDelete = "delete"
	CommandReset  = "reset"
)

// Command is the admin channel envelope. Data depends on Type:
// add => AddKey, remove => key string, delete => id string, reset => []string.
type Command struct {
	Type string          `json:"type" validate:"required,oneof=add remove delete reset"`
	Data json.RawMessage `json:"data"`
}

// AddKey is the payload of an add command.
type AddKey struct {
	Key string `json:"key" validate:"required"`
	Old string `json:"old,omitempty"`
}

// handleInternal implements POST /internal.
func (h *Handler) handleInternal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.authorized(r.Header.Get(AuthKeyHeader)) {
		writeError(ctx, w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var cmd Command
	if err := decodeStrict(http.MaxBytesReader(w, r.Body, adminBodyLimit), &cmd); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validate.Struct(cmd); err != nil {
		writeError(ctx, w, http.StatusBadRequest, "invalid command")
		return
	}
	cid, _ := GetCorrelationID(ctx)
	log := h.logger().With("domain", "admin", "action", cmd.Type, "cid", cid)

	switch cmd.Type {
	case CommandAdd:
		var data AddKey
		if err := decodeStrict(bytes.NewReader(cmd.Data), &data); err != nil || h.validate.Struct(data) != nil {
			writeError(ctx, w, http.StatusBadRequest, "invalid data")
			return
		}
		h.Service.AddKey(data.Key, data.Old)
		log.Info("key added", "retired", data.Old != "")
	case CommandRemove:
		var key string
		if err := decodeStrict(bytes.NewReader(cmd.Data), &key); err != nil || h.validate.Var(key, "required") != nil {
			writeError(ctx, w, http.StatusBadRequest, "invalid data")
			return
		}
		h.Service.RemoveKey(key)
		log.Info("key removed")
	case CommandDelete:
		var id string
		if err := decodeStrict(bytes.NewReader(cmd.Data), &id); err != nil {
			writeError(ctx, w, http.StatusBadRequest, "invalid data")
			return
		}
		if err := h.Service.Delete(ctx, id); err != nil {
			h.mapServiceError(ctx, w, err)
			return
		}
		log.Info("story deleted")
	case CommandReset:
		var ids []string
		if err := decodeStrict(bytes.NewReader(cmd.Data), &ids); err != nil || h.validate.Var(ids, "required") != nil {
			writeError(ctx, w, http.StatusBadRequest, "invalid data")
			return
		}
		n, err := h.Service.Reset(ctx, ids)
		if err != nil {
			h.mapServiceError(ctx, w, err)
			return
		}
		log.Info("store reset", "kept", n)
	}
	w.WriteHeader(http.StatusOK)
}

// authorized compares the presented secret in constant time. An unset secret
// disables the channel.
func (h *Handler) authorized(presented string) bool {
	if h.AuthKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(h.AuthKey)) == 1
}

var errTrailingData = errors.New("trailing data after json value")

// decodeStrict decodes exactly one JSON value into v.
func decodeStrict(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errTrailingData
	}
	return nil
}
