// Package couch implements a document store that talks to a CouchDB server over HTTP.
// It also supplies an http.Handler
// serving a CouchDB-compatible subset of that API
// from any couchpush.Store.
package couch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/couchpush"
	"github.com/bobg/couchpush/store"
)

var (
	_ couchpush.Store            = &Store{}
	_ couchpush.Ensurer          = &Store{}
	_ couchpush.AttachmentGetter = &Store{}
)

// Store is a CouchDB database.
type Store struct {
	client *http.Client
	base   string // scheme://host[:port]/db, escaped, no credentials
	db     string
	user   *url.Userinfo
}

// New produces a new Store for the database at dbURL,
// which has the form scheme://[user:pass@]host[:port]/db.
// Credentials in the URL are sent with each request using basic auth.
// If client is nil, http.DefaultClient is used.
func New(dbURL string, client *http.Client) (*Store, error) {
	u, err := url.Parse(dbURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, couchpush.InvalidTarget(dbURL, err)
	}
	db := strings.Trim(u.Path, "/")
	if db == "" {
		return nil, couchpush.NoDatabase(u.Redacted())
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &Store{
		client: client,
		base:   u.Scheme + "://" + u.Host + "/" + url.PathEscape(db),
		db:     db,
		user:   u.User,
	}, nil
}

// DocPath escapes a document id for use in a URL path.
// Design document ids keep the slash after _design.
func DocPath(id string) string {
	if rest := strings.TrimPrefix(id, "_design/"); rest != id {
		return "_design/" + url.PathEscape(rest)
	}
	return url.PathEscape(id)
}

func attachmentPath(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

type couchError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

func (s *Store) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	u := s.base
	if path != "" {
		u += "/" + path
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, errors.Wrapf(err, "constructing %s request for %s", method, u)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if s.user != nil {
		pw, _ := s.user.Password()
		req.SetBasicAuth(s.user.Username(), pw)
	}
	resp, err := s.client.Do(req)
	return resp, errors.Wrapf(err, "sending %s %s", method, u)
}

// responseError interprets a non-2xx response.
func responseError(resp *http.Response) error {
	var ce couchError
	b, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(b, &ce); err != nil || ce.Error == "" {
		ce.Error = http.StatusText(resp.StatusCode)
		ce.Reason = strings.TrimSpace(string(b))
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return errors.Wrap(couchpush.ErrNotFound, ce.Reason)
	case http.StatusConflict:
		return errors.Wrap(couchpush.ErrConflict, ce.Reason)
	}
	return errors.Errorf("status %d: %s: %s", resp.StatusCode, ce.Error, ce.Reason)
}

// Ensure creates the database if it does not exist.
func (s *Store) Ensure(ctx context.Context) error {
	resp, err := s.do(ctx, http.MethodGet, "", "", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		// Create it below.
	default:
		return errors.Wrapf(responseError(resp), "checking database %s", s.db)
	}

	resp2, err := s.do(ctx, http.MethodPut, "", "", nil)
	if err != nil {
		return err
	}
	defer resp2.Body.Close()

	switch resp2.StatusCode {
	case http.StatusCreated, http.StatusAccepted, http.StatusPreconditionFailed:
		// 412 means someone else created it first.
		return nil
	}
	return errors.Wrapf(responseError(resp2), "creating database %s", s.db)
}

// Get gets the document with the given id.
func (s *Store) Get(ctx context.Context, id string) (*couchpush.Doc, error) {
	resp, err := s.do(ctx, http.MethodGet, DocPath(id), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = responseError(resp)
		if errors.Is(err, couchpush.ErrNotFound) {
			return nil, couchpush.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting %s", id)
	}

	var doc couchpush.Doc
	err = json.NewDecoder(resp.Body).Decode(&doc)
	return &doc, errors.Wrapf(err, "decoding %s", id)
}

// GetAttachment gets the content of the named attachment of the document with the given id.
func (s *Store) GetAttachment(ctx context.Context, id, name string) ([]byte, error) {
	resp, err := s.do(ctx, http.MethodGet, DocPath(id)+"/"+attachmentPath(name), "", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err = responseError(resp)
		if errors.Is(err, couchpush.ErrNotFound) {
			return nil, couchpush.ErrNotFound
		}
		return nil, errors.Wrapf(err, "getting attachment %s of %s", name, id)
	}
	b, err := io.ReadAll(resp.Body)
	return b, errors.Wrapf(err, "reading attachment %s of %s", name, id)
}

// Put writes a document with inline attachments.
func (s *Store) Put(ctx context.Context, doc couchpush.Doc) (string, error) {
	j, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Wrapf(err, "encoding %s", doc.ID)
	}
	return s.put(ctx, doc.ID, "application/json", bytes.NewReader(j))
}

// PutMultipart writes a document followed by the content of atts,
// as a multipart/related request.
// Each of atts gets a "follows" entry in the document's attachment map.
// The parts are in the same order as the entries,
// which is sorted by name.
func (s *Store) PutMultipart(ctx context.Context, doc couchpush.Doc, atts []couchpush.Attachment) (string, error) {
	doc = doc.Clone()
	if doc.Attachments == nil {
		doc.Attachments = make(map[string]couchpush.Stub, len(atts))
	}

	atts = append([]couchpush.Attachment(nil), atts...)
	sort.Slice(atts, func(i, j int) bool { return atts[i].Name < atts[j].Name })

	for _, a := range atts {
		doc.Attachments[a.Name] = couchpush.Stub{
			ContentType: a.ContentType,
			Length:      int64(len(a.Data)),
			Follows:     true,
		}
	}

	j, err := json.Marshal(doc)
	if err != nil {
		return "", errors.Wrapf(err, "encoding %s", doc.ID)
	}

	buf := new(bytes.Buffer)
	mw := multipart.NewWriter(buf)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Type", "application/json")
	pw, err := mw.CreatePart(hdr)
	if err != nil {
		return "", errors.Wrap(err, "creating document part")
	}
	if _, err = pw.Write(j); err != nil {
		return "", errors.Wrap(err, "writing document part")
	}

	for _, a := range atts {
		hdr := make(textproto.MIMEHeader)
		hdr.Set("Content-Type", a.ContentType)
		hdr.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Name))
		hdr.Set("Content-Length", strconv.Itoa(len(a.Data)))
		pw, err := mw.CreatePart(hdr)
		if err != nil {
			return "", errors.Wrapf(err, "creating part for attachment %s", a.Name)
		}
		if _, err = pw.Write(a.Data); err != nil {
			return "", errors.Wrapf(err, "writing part for attachment %s", a.Name)
		}
	}
	if err = mw.Close(); err != nil {
		return "", errors.Wrap(err, "finishing multipart body")
	}

	contentType := fmt.Sprintf(`multipart/related; boundary="%s"`, mw.Boundary())
	return s.put(ctx, doc.ID, contentType, buf)
}

func (s *Store) put(ctx context.Context, id, contentType string, body io.Reader) (string, error) {
	resp, err := s.do(ctx, http.MethodPut, DocPath(id), contentType, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return "", errors.Wrapf(responseError(resp), "writing %s", id)
	}

	var res couchpush.Result
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return "", errors.Wrapf(err, "decoding response for %s", id)
	}
	return res.Rev, nil
}

func init() {
	store.Register("couch", func(_ context.Context, conf map[string]interface{}) (couchpush.Store, error) {
		u, ok := conf["url"].(string)
		if !ok {
			return nil, errors.New(`missing "url" parameter`)
		}
		return New(u, nil)
	}, "http", "https")
}
