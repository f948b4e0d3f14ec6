package httpapi

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/varserver/vard/api"
	"github.com/varserver/vard/internal/registry"
	"github.com/varserver/vard/vquery"
)

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) error {
	var req api.CreateRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	typ, err := api.ParseVarType(req.Type)
	if err != nil {
		return badRequest("%v", err)
	}
	flags, err := api.ParseFlags(req.Flags)
	if err != nil {
		return badRequest("%v", err)
	}
	handle, err := h.reg.Create(registry.Spec{
		Name:       req.Name,
		InstanceID: req.InstanceID,
		Type:       typ,
		Value:      req.Value,
		Flags:      flags,
		Tags:       req.Tags,
		Format:     req.Format,
		GUID:       req.GUID,
	})
	if err != nil {
		return err
	}
	return writeJSON(w, api.CreateResponse{
		Handle:     handle,
		Name:       req.Name,
		InstanceID: req.InstanceID,
	})
}

// resolve turns a name-or-handle selector into a handle.
func (h *Handler) resolve(name string, instanceID, handle uint32) (uint32, error) {
	if handle != 0 {
		return handle, nil
	}
	if name == "" {
		return 0, badRequest("name or handle required")
	}
	return h.reg.Lookup(name, instanceID)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) error {
	var req api.GetRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	handle, err := h.resolve(req.Name, req.InstanceID, req.Handle)
	if err != nil {
		return err
	}
	info, err := h.reg.Get(handle)
	if err != nil {
		return err
	}
	resp := api.GetResponse{
		Handle:     info.Handle,
		Name:       info.Name,
		InstanceID: info.InstanceID,
		Type:       info.Type.String(),
		Value:      info.Value,
		Flags:      info.Flags.String(),
		Tags:       joinTags(info.Tags),
		Seq:        info.Seq,
	}
	if info.Format != "" {
		var buf bytes.Buffer
		if err := h.reg.Render(handle, &buf); err != nil {
			return err
		}
		resp.Formatted = buf.String()
	}
	return writeJSON(w, resp)
}

func (h *Handler) handleSet(w http.ResponseWriter, r *http.Request) error {
	var req api.SetRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	handle, err := h.resolve(req.Name, req.InstanceID, req.Handle)
	if err != nil {
		return err
	}
	seq, err := h.reg.Set(handle, req.Value)
	if err != nil {
		return err
	}
	return writeJSON(w, api.SetResponse{Handle: handle, Seq: seq})
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) error {
	var req api.QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	q, err := vquery.New(vquery.SearchMode(req.Mode), req.Pattern, req.Tags, req.InstanceID, api.Flags(req.Flags))
	if err != nil {
		return err
	}
	var found bool
	if req.Token == "" {
		found, err = h.reg.FindFirst(r.Context(), q)
	} else {
		q.Token = req.Token
		found, err = h.reg.FindNext(r.Context(), q)
	}
	if err != nil {
		return err
	}
	if !found {
		return writeJSON(w, api.QueryResponse{Done: true})
	}
	return writeJSON(w, api.QueryResponse{
		Name:       q.Name,
		InstanceID: q.CurInstanceID,
		Handle:     uint32(q.Handle),
		Token:      q.Token,
	})
}

func (h *Handler) handleRender(w http.ResponseWriter, r *http.Request) error {
	var req api.RenderRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := h.reg.Render(req.Handle, &buf); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, err := w.Write(buf.Bytes())
	return err
}

func (h *Handler) handleFlags(w http.ResponseWriter, r *http.Request) error {
	var req api.FlagsRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.Match == "" {
		return badRequest("match required")
	}
	flags, err := api.ParseFlags(req.Flags)
	if err != nil {
		return badRequest("%v", err)
	}
	if flags == 0 {
		return badRequest("at least one flag required")
	}
	var set bool
	switch req.Op {
	case api.FlagOpSet:
		set = true
	case api.FlagOpClear:
		set = false
	default:
		return badRequest("op must be %q or %q", api.FlagOpSet, api.FlagOpClear)
	}
	affected := h.reg.ModifyFlags(req.Match, flags, set)
	return writeJSON(w, api.FlagsResponse{Affected: affected})
}

func (h *Handler) handleAlias(w http.ResponseWriter, r *http.Request) error {
	var req api.AliasRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	handle, err := h.resolve(req.Name, req.InstanceID, req.Handle)
	if err != nil {
		return err
	}
	if err := h.reg.Alias(handle, req.Alias); err != nil {
		return err
	}
	return writeJSON(w, api.AliasResponse{Handle: handle})
}

func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) error {
	var req api.WatchRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	handle, err := h.resolve(req.Name, req.InstanceID, req.Handle)
	if err != nil {
		return err
	}
	timeout := h.watchTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	seq, changed, err := h.reg.Watch(ctx, handle, req.Seq)
	if err != nil {
		return err
	}
	resp := api.WatchResponse{Changed: changed, Seq: seq}
	if changed {
		info, err := h.reg.Get(handle)
		if err != nil {
			return err
		}
		resp.Value = info.Value
	}
	return writeJSON(w, resp)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) error {
	resp := api.StatusResponse{
		RunID:         h.runID,
		Version:       h.version,
		Variables:     h.reg.Count(),
		Tags:          h.reg.TagCount(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Requests:      h.requestCounts(),
	}
	if rss, ok := processRSS(); ok {
		resp.RSSBytes = rss
	}
	return writeJSON(w, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(http.StatusOK)
	_, err := w.Write([]byte("ok\n"))
	return err
}

func processRSS() (uint64, bool) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, false
	}
	mem, err := proc.MemoryInfo()
	if err != nil || mem == nil {
		return 0, false
	}
	return mem.RSS, true
}
