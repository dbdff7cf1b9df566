package couch

import (
	"encoding/json"
	stderrs "errors"
	"io"
	"log"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
)

// Handler serves a single CouchDB-style database from a couchpush.Store.
// It understands enough of the CouchDB API for Store (this package's client):
//
//	GET /                        server info
//	GET, PUT /DB                 database info, database creation
//	GET /DB/ID                   get a document
//	PUT /DB/ID                   write a document (application/json or multipart/related)
//	GET /DB/ID/ATTACHMENT        get an attachment's content
//
// Design document ids (_design/NAME) occupy two path segments.
// The database appears not to exist until it is created with PUT /DB.
type Handler struct {
	db string
	s  couchpush.Store

	mu      sync.Mutex
	created bool
}

// NewHandler produces a new Handler serving database db from s.
func NewHandler(db string, s couchpush.Store) *Handler {
	return &Handler{db: db, s: s}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	segs := strings.Split(strings.Trim(req.URL.EscapedPath(), "/"), "/")
	for i, seg := range segs {
		s, err := url.PathUnescape(seg)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}
		segs[i] = s
	}

	if len(segs) == 1 && segs[0] == "" {
		writeJSON(w, http.StatusOK, map[string]string{"couchdb": "Welcome"})
		return
	}
	if segs[0] != h.db {
		writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
		return
	}
	if len(segs) == 1 {
		h.handleDB(w, req)
		return
	}

	var id string
	segs = segs[1:]
	if segs[0] == "_design" && len(segs) > 1 {
		id, segs = "_design/"+segs[1], segs[2:]
	} else {
		id, segs = segs[0], segs[1:]
	}

	if len(segs) > 0 {
		h.handleAttachment(w, req, id, strings.Join(segs, "/"))
		return
	}

	switch req.Method {
	case http.MethodGet:
		h.handleGet(w, req, id)
	case http.MethodPut:
		h.handlePut(w, req, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET,PUT allowed")
	}
}

func (h *Handler) handleDB(w http.ResponseWriter, req *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch req.Method {
	case http.MethodGet, http.MethodHead:
		if !h.created {
			writeError(w, http.StatusNotFound, "not_found", "Database does not exist.")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"db_name": h.db})

	case http.MethodPut:
		if h.created {
			writeError(w, http.StatusPreconditionFailed, "file_exists", "The database could not be created, the file already exists.")
			return
		}
		if e, ok := h.s.(couchpush.Ensurer); ok {
			if err := e.Ensure(req.Context()); err != nil {
				writeError(w, http.StatusInternalServerError, "internal_server_error", err.Error())
				return
			}
		}
		h.created = true
		log.Printf("created database %s", h.db)
		writeJSON(w, http.StatusCreated, map[string]bool{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET,HEAD,PUT allowed")
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, req *http.Request, id string) {
	doc, err := h.s.Get(req.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (h *Handler) handleAttachment(w http.ResponseWriter, req *http.Request, id, name string) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Only GET allowed")
		return
	}
	g, ok := h.s.(couchpush.AttachmentGetter)
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Document is missing attachment")
		return
	}
	doc, err := h.s.Get(req.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	stub, ok := doc.Attachments[name]
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "Document is missing attachment")
		return
	}
	data, err := g.GetAttachment(req.Context(), id, name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", stub.ContentType)
	w.Header().Set("Content-MD5", strings.TrimPrefix(stub.Digest, "md5-"))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (h *Handler) handlePut(w http.ResponseWriter, req *http.Request, id string) {
	mediaType, params, err := mime.ParseMediaType(req.Header.Get("Content-Type"))
	if err != nil {
		mediaType = "application/json"
	}

	var (
		doc  couchpush.Doc
		atts []couchpush.Attachment
	)

	switch mediaType {
	case "multipart/related":
		doc, atts, err = readMultipart(req.Body, params["boundary"])
	default:
		err = json.NewDecoder(req.Body).Decode(&doc)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if doc.ID == "" {
		doc.ID = id
	}
	if doc.ID != id {
		writeError(w, http.StatusBadRequest, "bad_request", "Document id must match URL")
		return
	}

	var rev string
	if len(atts) > 0 {
		rev, err = h.s.PutMultipart(req.Context(), doc, atts)
	} else {
		rev, err = h.s.Put(req.Context(), doc)
	}
	if err != nil {
		log.Printf("ERROR writing %s: %s", id, err)
		writeStoreError(w, err)
		return
	}

	log.Printf("wrote %s, rev %s, %d attachment part(s)", id, rev, len(atts))
	writeJSON(w, http.StatusCreated, couchpush.Result{OK: true, ID: id, Rev: rev})
}

// readMultipart reads a multipart/related document write.
// The first part is the document;
// each later part is the content of the next "follows" attachment,
// taking the attachments in name order.
func readMultipart(r io.Reader, boundary string) (couchpush.Doc, []couchpush.Attachment, error) {
	var doc couchpush.Doc
	if boundary == "" {
		return doc, nil, errors.New("missing multipart boundary")
	}
	mr := multipart.NewReader(r, boundary)

	part, err := mr.NextPart()
	if err != nil {
		return doc, nil, errors.Wrap(err, "reading document part")
	}
	if err = json.NewDecoder(part).Decode(&doc); err != nil {
		return doc, nil, errors.Wrap(err, "decoding document part")
	}

	var atts []couchpush.Attachment
	for _, name := range doc.AttachmentNames() {
		stub := doc.Attachments[name]
		if !stub.Follows {
			continue
		}
		part, err := mr.NextPart()
		if err != nil {
			return doc, nil, errors.Wrapf(err, "reading part for attachment %s", name)
		}
		data, err := io.ReadAll(part)
		if err != nil {
			return doc, nil, errors.Wrapf(err, "reading content of attachment %s", name)
		}
		contentType := stub.ContentType
		if contentType == "" {
			contentType = part.Header.Get("Content-Type")
		}
		atts = append(atts, couchpush.Attachment{Name: name, ContentType: contentType, Data: data})
	}

	return doc, atts, nil
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case stderrs.Is(err, couchpush.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "missing")
	case stderrs.Is(err, couchpush.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", "Document update conflict.")
	case stderrs.Is(err, couchpush.ErrMissingStub):
		writeError(w, http.StatusPreconditionFailed, "missing_stub", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_server_error", err.Error())
	}
}

func writeError(w http.ResponseWriter, code int, kind, reason string) {
	writeJSON(w, code, couchError{Error: kind, Reason: reason})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR encoding response: %s", err)
	}
}
