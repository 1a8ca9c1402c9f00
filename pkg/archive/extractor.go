package archive

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/krkn-chaos/krkn-lib-sub000/pkg/config"
	"github.com/krkn-chaos/krkn-lib-sub000/pkg/gateway"
	"github.com/krkn-chaos/krkn-lib-sub000/pkg/safelog"
)

// RemoteStateError marks a precondition check against the remote container
// or the local filesystem that failed before any worker started.
type RemoteStateError struct {
	Reason string
}

func (e *RemoteStateError) Error() string { return "archive: " + e.Reason }

// LocalIOError marks a failure to open the local file a downloaded volume
// is written to. It is terminal for the volume it names; the
// worker that hits it logs and moves on to the next volume.
type LocalIOError struct {
	Path string
	Err  error
}

func (e *LocalIOError) Error() string { return fmt.Sprintf("archive: local io on %s: %v", e.Path, e.Err) }
func (e *LocalIOError) Unwrap() error { return e.Err }

// Extractor builds a size-split tar archive inside a target container and
// pulls each resulting volume over the exec channel as base64.
type Extractor struct {
	Gateway gateway.ClusterGateway
	Sink    *safelog.Sink

	// DeleteRemoteAfterDownload removes each remote volume file once its
	// local copy has been written successfully.
	DeleteRemoteAfterDownload bool
}

// New builds an Extractor that deletes remote volumes after a successful
// download, matching krkn_lib's default behavior.
func New(gw gateway.ClusterGateway, sink *safelog.Sink) *Extractor {
	return &Extractor{Gateway: gw, Sink: sink, DeleteRemoteAfterDownload: true}
}

// Options configures one Extract call.
type Options struct {
	Pod           string
	Container     string
	Namespace     string
	RemoteWorkDir string
	TargetDir     string
	Prefix        string
	PartSizeKB    int
	WorkerCount   int
	LocalDir      string
}

// Extract archives opts.TargetDir inside the container into size-bounded
// tar volumes under opts.RemoteWorkDir, then downloads each one as base64
// into opts.LocalDir using up to opts.WorkerCount concurrent workers.
func (x *Extractor) Extract(ctx context.Context, opts Options) ([]Volume, error) {
	if err := x.checkRemoteDir(ctx, opts, opts.RemoteWorkDir); err != nil {
		return nil, err
	}
	if err := x.checkRemoteDir(ctx, opts, opts.TargetDir); err != nil {
		return nil, err
	}
	if info, err := os.Stat(opts.LocalDir); err != nil || !info.IsDir() {
		return nil, &RemoteStateError{Reason: fmt.Sprintf("local directory %s does not exist", opts.LocalDir)}
	}

	if err := x.createRemoteArchive(ctx, opts); err != nil {
		return nil, fmt.Errorf("archive: creating remote archive: %w", err)
	}

	count, err := x.countVolumes(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("archive: counting volumes: %w", err)
	}

	return x.downloadVolumes(ctx, opts, count), nil
}

// ExtractPrometheusData applies the config-gated behavior used for
// Prometheus backups: it is a no-op when disabled, and narrows the target to
// the "wal" subdirectory unless a full backup was requested.
func (x *Extractor) ExtractPrometheusData(ctx context.Context, cfg *config.Config, opts Options) ([]Volume, error) {
	if !cfg.PrometheusBackup {
		return nil, nil
	}
	if !cfg.FullPrometheusBackup {
		opts.TargetDir = filepath.Join(opts.TargetDir, "wal")
	}
	opts.PartSizeKB = cfg.ArchiveSizeKB
	opts.WorkerCount = cfg.BackupThreads
	opts.LocalDir = cfg.ArchivePath
	return x.Extract(ctx, opts)
}

func (x *Extractor) checkRemoteDir(ctx context.Context, opts Options, dir string) error {
	var out bytes.Buffer
	cmd := []string{"sh", "-c", fmt.Sprintf(`[ -d %q ] && echo true || echo false`, dir)}
	if err := x.Gateway.ExecStream(ctx, gateway.ExecOptions{
		Pod: opts.Pod, Container: opts.Container, Namespace: opts.Namespace,
		Command: cmd, WantStdout: true,
	}, &out, nil); err != nil {
		return fmt.Errorf("archive: checking %s: %w", dir, err)
	}
	if strings.TrimSpace(out.String()) != "true" {
		return &RemoteStateError{Reason: fmt.Sprintf("remote directory %s does not exist", dir)}
	}
	return nil
}

func (x *Extractor) createRemoteArchive(ctx context.Context, opts Options) error {
	tarCmd := fmt.Sprintf(
		"printf 'n %s/%s%%02d.tar\\n' {1..100000} | "+
			"tar --exclude=%s* --tape-length=%d -cf %s/%s00.tar -C %s .",
		opts.RemoteWorkDir, opts.Prefix,
		opts.Prefix, opts.PartSizeKB,
		opts.RemoteWorkDir, opts.Prefix, opts.TargetDir,
	)
	if x.Sink != nil {
		x.Sink.Info("archive: creating data archive in %s, please wait", opts.Pod)
	}
	var errBuf bytes.Buffer
	err := x.Gateway.ExecStream(ctx, gateway.ExecOptions{
		Pod: opts.Pod, Container: opts.Container, Namespace: opts.Namespace,
		Command: []string{"sh", "-c", tarCmd}, WantStdout: true, WantStderr: true,
	}, nil, &errBuf)
	if err != nil {
		return fmt.Errorf("%w: %s", err, errBuf.String())
	}
	return nil
}

func (x *Extractor) countVolumes(ctx context.Context, opts Options) (int, error) {
	countCmd := fmt.Sprintf("ls %s/%s* | wc -l", opts.RemoteWorkDir, opts.Prefix)
	var out bytes.Buffer
	if err := x.Gateway.ExecStream(ctx, gateway.ExecOptions{
		Pod: opts.Pod, Container: opts.Container, Namespace: opts.Namespace,
		Command: []string{"sh", "-c", countCmd}, WantStdout: true,
	}, &out, nil); err != nil {
		return 0, err
	}
	count, err := strconv.Atoi(strings.TrimSpace(out.String()))
	if err != nil {
		return 0, fmt.Errorf("archive: parsing volume count %q: %w", out.String(), err)
	}
	return count, nil
}

func (x *Extractor) downloadVolumes(ctx context.Context, opts Options, count int) []Volume {
	var (
		mu      sync.Mutex
		next    int
		results []Volume
	)

	dequeue := func() (int, bool) {
		mu.Lock()
		defer mu.Unlock()
		if next >= count {
			return 0, false
		}
		seq := next
		next++
		return seq, true
	}

	workerCount := opts.WorkerCount
	if workerCount > count {
		workerCount = count
	}
	if workerCount <= 0 {
		workerCount = 1
	}

	var wg sync.WaitGroup
	for w := 0; w < workerCount; w++ {
		wg.Add(1)
		go func(workerNumber int) {
			defer wg.Done()
			for {
				seq, ok := dequeue()
				if !ok {
					return
				}
				vol, err := x.downloadOne(ctx, opts, seq, workerNumber)
				if err != nil {
					if x.Sink != nil {
						x.Sink.Error("archive: [worker #%d] failed to download volume %d: %v", workerNumber, seq, err)
					}
					continue
				}
				mu.Lock()
				results = append(results, vol)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Sequence < results[j].Sequence })
	return results
}

func (x *Extractor) downloadOne(ctx context.Context, opts Options, sequence, workerNumber int) (Volume, error) {
	localPath := filepath.Join(opts.LocalDir, fmt.Sprintf("%s%02d.tar.b64", opts.Prefix, sequence))
	remotePath := fmt.Sprintf("%s/%s%02d.tar", opts.RemoteWorkDir, opts.Prefix, sequence)

	file, err := os.OpenFile(localPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return Volume{}, &LocalIOError{Path: localPath, Err: err}
	}
	defer file.Close()

	if err := x.Gateway.ExecStream(ctx, gateway.ExecOptions{
		Pod: opts.Pod, Container: opts.Container, Namespace: opts.Namespace,
		Command: []string{"base64", remotePath}, WantStdout: true,
	}, file, nil); err != nil {
		return Volume{}, fmt.Errorf("downloading %s: %w", remotePath, err)
	}

	if x.Sink != nil {
		x.Sink.Info("archive: [worker #%d] %s downloaded", workerNumber, localPath)
	}

	if x.DeleteRemoteAfterDownload {
		var errBuf bytes.Buffer
		if err := x.Gateway.ExecStream(ctx, gateway.ExecOptions{
			Pod: opts.Pod, Container: opts.Container, Namespace: opts.Namespace,
			Command: []string{"rm", "-f", remotePath}, WantStderr: true,
		}, nil, &errBuf); err != nil && x.Sink != nil {
			x.Sink.Error("archive: [worker #%d] failed to remove remote volume %s: %v", workerNumber, remotePath, err)
		}
	}

	return Volume{Sequence: sequence, LocalPath: localPath, RemotePath: remotePath}, nil
}
