// Package publisher decodes archive.Volume payloads and uploads them to the
// broker's presigned-URL endpoints, the same two-step handoff krkn_lib's
// generate_url_and_put_to_s3_worker performs: fetch a presigned URL, then
// PUT the file to it, retrying with a fixed backoff up to MaxRetries.
package publisher

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"

	"github.com/krkn-chaos/krkn-lib-sub000/pkg/archive"
	"github.com/krkn-chaos/krkn-lib-sub000/pkg/config"
	"github.com/krkn-chaos/krkn-lib-sub000/pkg/safelog"
)

const (
	retryBackoff = 5 * time.Second
	putTimeout   = 5 * time.Second
)

// BrokerError marks a non-200 response from a broker endpoint.
type BrokerError struct {
	Endpoint   string
	StatusCode int
}

func (e *BrokerError) Error() string {
	return fmt.Sprintf("publisher: %s returned status %d", e.Endpoint, e.StatusCode)
}

// LocalIOError marks a failure to open, create, or remove a local file
// while staging or cleaning up a volume for upload. Terminal for that task.
type LocalIOError struct {
	Path string
	Err  error
}

func (e *LocalIOError) Error() string { return fmt.Sprintf("publisher: local io on %s: %v", e.Path, e.Err) }
func (e *LocalIOError) Unwrap() error { return e.Err }

// Publisher uploads local files to whatever object store sits behind the
// broker's presigned-URL endpoint. It never speaks an object-store protocol
// directly; the broker decides where uploads land.
type Publisher struct {
	Config *config.Config
	Sink   *safelog.Sink
	Client *http.Client
}

// New builds a Publisher bound to cfg, with a default HTTP client matching
// the 5-second PUT timeout the original enforces.
func New(cfg *config.Config, sink *safelog.Sink) *Publisher {
	return &Publisher{Config: cfg, Sink: sink, Client: &http.Client{Timeout: putTimeout}}
}

type uploadTask struct {
	sequence int
	path     string
	attempt  int
}

// Result is the outcome of a publish call: the local paths successfully
// uploaded (and removed) and the sequence numbers that exhausted retries.
type Result struct {
	Uploaded []string
	Failed   []int
}

// PublishVolumes decodes each archive.Volume's base64 file, uploads the
// decoded payload under "{prefix}{sequence}{suffix}", and returns once every
// volume has either succeeded or exhausted its retries. requestID is
// combined with group as "{group}/{requestID}" for the presigned-url call,
// matching the broker's addressing scheme.
func (p *Publisher) PublishVolumes(ctx context.Context, group, requestID, prefix, suffix string, volumes []archive.Volume) (Result, error) {
	tasks := make([]uploadTask, 0, len(volumes))
	for _, v := range volumes {
		decodedPath, err := decodeVolume(v.LocalPath)
		if err != nil {
			if p.Sink != nil {
				p.Sink.Error("publisher: decoding %s: %v", v.LocalPath, err)
			}
			continue
		}
		tasks = append(tasks, uploadTask{sequence: v.Sequence, path: decodedPath})
	}
	nameFn := func(seq int) string { return fmt.Sprintf("%s%02d%s", prefix, seq, suffix) }
	return p.run(ctx, group+"/"+requestID, nameFn, tasks)
}

// PutOne uploads a single already-decoded file under remoteFilename,
// reusing the same worker/retry logic as PublishVolumes (used for the
// critical-alerts and log-archive paths).
func (p *Publisher) PutOne(ctx context.Context, group, requestID, remoteFilename, localPath string) (Result, error) {
	nameFn := func(int) string { return remoteFilename }
	return p.run(ctx, group+"/"+requestID, nameFn, []uploadTask{{sequence: 0, path: localPath}})
}

func (p *Publisher) run(ctx context.Context, compositeRequestID string, nameFn func(int) string, tasks []uploadTask) (Result, error) {
	if len(tasks) == 0 {
		return Result{}, nil
	}

	workers := p.Config.BackupThreads
	if workers <= 0 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	queue := make(chan uploadTask, len(tasks)*2+workers)
	var pending sync.WaitGroup
	pending.Add(len(tasks))
	for _, t := range tasks {
		queue <- t
	}

	var (
		mu     sync.Mutex
		result Result
		failed = make(map[int]error)
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerNumber int) {
			defer wg.Done()
			for t := range queue {
				name := nameFn(t.sequence)
				err := p.uploadOne(ctx, compositeRequestID, name, t.path)
				if err == nil {
					mu.Lock()
					result.Uploaded = append(result.Uploaded, t.path)
					delete(failed, t.sequence)
					mu.Unlock()
					os.Remove(t.path)
					pending.Done()
					continue
				}

				if p.Config.MaxRetries == 0 || t.attempt < p.Config.MaxRetries {
					if p.Sink != nil {
						p.Sink.Warning("publisher: [worker #%d] %s retry %d: %v", workerNumber, t.path, t.attempt, err)
					}
					time.Sleep(retryBackoff)
					queue <- uploadTask{sequence: t.sequence, path: t.path, attempt: t.attempt + 1}
					continue
				}

				if p.Sink != nil {
					p.Sink.Error("publisher: [worker #%d] max retries exceeded for %s: %v", workerNumber, t.path, err)
				}
				mu.Lock()
				failed[t.sequence] = err
				result.Failed = append(result.Failed, t.sequence)
				mu.Unlock()
				pending.Done()
			}
		}(w)
	}

	go func() {
		pending.Wait()
		close(queue)
	}()
	wg.Wait()

	if len(failed) == 0 {
		return result, nil
	}
	errs := make([]error, 0, len(failed))
	for _, e := range failed {
		errs = append(errs, e)
	}
	return result, utilerrors.NewAggregate(errs)
}

func (p *Publisher) uploadOne(ctx context.Context, compositeRequestID, remoteFilename, localPath string) error {
	presignedURL, err := p.requestPresignedURL(ctx, compositeRequestID, remoteFilename)
	if err != nil {
		return err
	}
	return p.putFile(ctx, presignedURL, localPath)
}

func (p *Publisher) requestPresignedURL(ctx context.Context, compositeRequestID, remoteFilename string) (string, error) {
	endpoint := strings.TrimRight(p.Config.APIURL, "/") + "/presigned-url"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(p.Config.Username, p.Config.Password)
	q := url.Values{}
	q.Set("request_id", compositeRequestID)
	q.Set("remote_filename", remoteFilename)
	req.URL.RawQuery = q.Encode()

	resp, err := p.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publisher: requesting presigned url: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &BrokerError{Endpoint: "presigned-url", StatusCode: resp.StatusCode}
	}
	return strings.TrimSpace(string(body)), nil
}

func (p *Publisher) putFile(ctx context.Context, presignedURL, localPath string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("publisher: opening %s: %w", localPath, err)
	}
	defer file.Close()

	putCtx, cancel := context.WithTimeout(ctx, putTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(putCtx, http.MethodPut, presignedURL, file)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return fmt.Errorf("publisher: putting %s: %w", localPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &BrokerError{Endpoint: "put", StatusCode: resp.StatusCode}
	}
	return nil
}

// decodeVolume decodes a ".b64" file in place, removing the encoded source
// once the decoded file has been written, and returns the decoded path.
func decodeVolume(b64Path string) (string, error) {
	if !strings.HasSuffix(b64Path, ".b64") {
		return "", fmt.Errorf("publisher: %s does not have a .b64 suffix", b64Path)
	}
	decodedPath := strings.TrimSuffix(b64Path, ".b64")

	src, err := os.Open(b64Path)
	if err != nil {
		return "", &LocalIOError{Path: b64Path, Err: err}
	}
	defer src.Close()

	dst, err := os.OpenFile(decodedPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return "", &LocalIOError{Path: decodedPath, Err: err}
	}
	defer dst.Close()

	decoder := base64.NewDecoder(base64.StdEncoding, src)
	if _, err := io.Copy(dst, decoder); err != nil {
		return "", fmt.Errorf("publisher: decoding %s: %w", b64Path, err)
	}
	if err := os.Remove(b64Path); err != nil {
		return "", &LocalIOError{Path: b64Path, Err: err}
	}
	return decodedPath, nil
}
