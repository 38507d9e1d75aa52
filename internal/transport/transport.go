// Copyright 2025 The Home Automation Firmwares authors. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package transport provides the download transports used by the device
// updater.
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/machinebox/progress"
	"github.com/sebmalissard/home-automation-firmwares/internal/update"
	"go.mercari.io/go-dnscache"
	"k8s.io/klog/v2"
)

const (
	dnsUpdateFreq    = 1 * time.Minute
	dnsUpdateTimeout = 5 * time.Second

	// progressInterval is the time between download progress log lines.
	progressInterval = 1 * time.Second
)

// NewHTTPClient returns an HTTP client which caches DNS lookups, suitable
// for repeatedly polling the same update server.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	resolver, err := dnscache.New(dnsUpdateFreq, dnsUpdateTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create DNS cache: %v", err)
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: dnscache.DialFunc(resolver, (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext),
			MaxIdleConns:          10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// HTTP downloads images over HTTP(S).
type HTTP struct {
	// Client is used for requests, http.DefaultClient if nil.
	Client *http.Client
	// LogProgress enables periodic logging of download progress.
	LogProgress bool
}

// Connect implements update.Transport.
func (h *HTTP) Connect(ctx context.Context, u string) (update.Stream, error) {
	resp, err := h.get(ctx, u)
	if err != nil {
		return nil, err
	}

	s := &stream{
		rc:     resp.Body,
		length: resp.ContentLength,
	}
	pr := progress.NewReader(resp.Body)
	s.r = pr
	if h.LogProgress && resp.ContentLength > 0 {
		ctx, cancel := context.WithCancel(ctx)
		s.done = cancel
		go func() {
			progressChan := progress.NewTicker(ctx, pr, resp.ContentLength, progressInterval)
			for p := range progressChan {
				klog.Infof("Downloading %q: %d%%, %v remaining...", u, int(p.Percent()), p.Remaining().Round(time.Second))
			}
		}()
	}
	return s, nil
}

// Fetch returns the body of the document at u.
func (h *HTTP) Fetch(ctx context.Context, u string) ([]byte, error) {
	resp, err := h.get(ctx, u)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			klog.Errorf("resp.Body.Close(): %v", err)
		}
	}()
	return io.ReadAll(resp.Body)
}

func (h *HTTP) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	hc := h.Client
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http.Client.Do(): %v", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotFound:
		klog.Infof("Not found: %q", u)
		resp.Body.Close()
		return nil, fmt.Errorf("%q: %w", u, os.ErrNotExist)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected http status %q", resp.Status)
	}
}

// File reads images from the local filesystem, given file:// URLs.
type File struct{}

// Connect implements update.Transport.
func (File) Connect(_ context.Context, u string) (update.Stream, error) {
	p, err := filePath(u)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &stream{r: f, rc: f, length: fi.Size()}, nil
}

// Fetch returns the contents of the file at u.
func (File) Fetch(_ context.Context, u string) ([]byte, error) {
	p, err := filePath(u)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(p)
}

func filePath(u string) (string, error) {
	pu, err := url.Parse(u)
	if err != nil {
		return "", err
	}
	if pu.Scheme != "file" {
		return "", fmt.Errorf("not a file URL: %q", u)
	}
	return pu.Path, nil
}

// stream adapts a response body to update.Stream.
type stream struct {
	r      io.Reader
	rc     io.Closer
	length int64
	done   func()
}

func (s *stream) Read(p []byte) (int, error) { return s.r.Read(p) }

func (s *stream) TotalLength() int64 { return s.length }

func (s *stream) Close() error {
	if s.done != nil {
		s.done()
	}
	return s.rc.Close()
}

// Fetcher retrieves whole documents.
type Fetcher interface {
	Fetch(ctx context.Context, u string) ([]byte, error)
}

// Transport both streams images and fetches documents.
type Transport interface {
	update.Transport
	Fetcher
}

// ByScheme dispatches requests to a transport chosen by URL scheme.
type ByScheme map[string]Transport

// New returns the standard set of transports: http and https via client,
// and file.
func New(client *http.Client, logProgress bool) ByScheme {
	h := &HTTP{Client: client, LogProgress: logProgress}
	return ByScheme{
		"http":  h,
		"https": h,
		"file":  File{},
	}
}

func (b ByScheme) pick(u string) (Transport, error) {
	pu, err := url.Parse(u)
	if err != nil {
		return nil, err
	}
	t, ok := b[pu.Scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported URL scheme %q", pu.Scheme)
	}
	return t, nil
}

// Connect implements update.Transport.
func (b ByScheme) Connect(ctx context.Context, u string) (update.Stream, error) {
	t, err := b.pick(u)
	if err != nil {
		return nil, err
	}
	return t.Connect(ctx, u)
}

// Fetch implements Fetcher.
func (b ByScheme) Fetch(ctx context.Context, u string) ([]byte, error) {
	t, err := b.pick(u)
	if err != nil {
		return nil, err
	}
	return t.Fetch(ctx, u)
}
