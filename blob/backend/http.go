package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/valyala/fasthttp"

	"github.com/habsim/core/xlog"
)

var log = xlog.Named("blob.backend")

// httpProvider talks to a plain HTTP/REST object endpoint (the shape a
// Supabase-Storage-like service exposes: GET to fetch, PUT to upload,
// DELETE to remove, and a JSON list endpoint), using a pooled fasthttp
// client the way the teacher's httpProvider pools *http.Client per scheme.
type httpProvider struct {
	client  *fasthttp.Client
	baseURL string
	token   string
}

var _ Provider = (*httpProvider)(nil)

func NewHTTP(baseURL, token string) Provider {
	return &httpProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &fasthttp.Client{
			ReadTimeout:         60 * time.Second,
			WriteTimeout:        60 * time.Second,
			MaxConnsPerHost:     64,
			MaxIdleConnDuration: 90 * time.Second,
		},
	}
}

func (p *httpProvider) url(name string) string { return p.baseURL + "/" + strings.TrimLeft(name, "/") }

func (p *httpProvider) authorize(req *fasthttp.Request) {
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
}

// listItem is the subset of a storage-bucket list entry this client reads,
// matching listdir_gefs's POST {"prefix": ...} -> [{"name": ..., ...}] shape.
type listItem struct {
	Name      string `json:"name"`
	UpdatedAt string `json:"updated_at"`
	Metadata  struct {
		Size int64 `json:"size"`
	} `json:"metadata"`
}

func (p *httpProvider) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	reqBody, err := jsoniter.Marshal(map[string]string{"prefix": prefix})
	if err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.url("") + "/list")
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(reqBody)
	p.authorize(req)

	if err := p.doWithDeadline(ctx, req, resp); err != nil {
		return nil, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("list %s: status %d", prefix, resp.StatusCode())
	}

	var items []listItem
	if err := jsoniter.Unmarshal(resp.Body(), &items); err != nil {
		return nil, fmt.Errorf("list %s: decode response: %w", prefix, err)
	}

	out := make([]ObjectInfo, 0, len(items))
	for _, it := range items {
		info := ObjectInfo{Name: it.Name, SizeB: it.Metadata.Size}
		if t, err := time.Parse(time.RFC3339, it.UpdatedAt); err == nil {
			info.LastModified = t
		}
		out = append(out, info)
	}
	return out, nil
}

func (p *httpProvider) Fetch(ctx context.Context, name string) (io.ReadCloser, int64, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()

	req.SetRequestURI(p.url(name))
	req.Header.SetMethod(fasthttp.MethodGet)
	p.authorize(req)

	if err := p.doWithDeadline(ctx, req, resp); err != nil {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		return nil, 0, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		err := fmt.Errorf("fetch %s: status %d", name, resp.StatusCode())
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
		return nil, 0, err
	}
	body := resp.Body()
	size := int64(len(body))
	buf := make([]byte, size)
	copy(buf, body)
	fasthttp.ReleaseRequest(req)
	fasthttp.ReleaseResponse(resp)
	return io.NopCloser(bytes.NewReader(buf)), size, nil
}

func (p *httpProvider) Put(ctx context.Context, name string, r io.Reader, size int64) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.url(name))
	req.Header.SetMethod(fasthttp.MethodPut)
	req.Header.Set("Content-Length", strconv.FormatInt(size, 10))
	req.SetBody(body)
	p.authorize(req)

	if err := p.doWithDeadline(ctx, req, resp); err != nil {
		return err
	}
	if resp.StatusCode() >= 300 {
		return fmt.Errorf("put %s: status %d", name, resp.StatusCode())
	}
	return nil
}

func (p *httpProvider) Delete(ctx context.Context, name string) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(p.url(name))
	req.Header.SetMethod(fasthttp.MethodDelete)
	p.authorize(req)

	if err := p.doWithDeadline(ctx, req, resp); err != nil {
		return err
	}
	if resp.StatusCode() >= 300 && resp.StatusCode() != fasthttp.StatusNotFound {
		return fmt.Errorf("delete %s: status %d", name, resp.StatusCode())
	}
	return nil
}

func (p *httpProvider) doWithDeadline(ctx context.Context, req *fasthttp.Request, resp *fasthttp.Response) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(60 * time.Second)
	}
	log.Infof("%s %s", req.Header.Method(), req.URI())
	return p.client.DoDeadline(req, resp, deadline)
}
