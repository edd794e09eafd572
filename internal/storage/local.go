package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/config"
	"github.com/any-hub/any-registry/internal/upstream"
)

const manifestFile = "package.json"

// Local 是基于本地磁盘的 Storage 实现，可选地回源到上游 registry。
type Local struct {
	basePath  string
	uplink    *url.URL
	client    *http.Client
	ttl       time.Duration
	userAgent string
	logger    *logrus.Logger
	now       func() time.Time

	mu          sync.RWMutex
	initialized bool
	filters     []MetadataFilter
	index       map[string]struct{}

	lockMu sync.Mutex
	locks  map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// NewLocal 只做参数解析，不触碰磁盘；目录创建与索引扫描在 Init 中完成。
func NewLocal(cfg *config.Config, logger *logrus.Logger) (*Local, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Global.StoragePath) == "" {
		return nil, errors.New("storage path required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}

	abs, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	s := &Local{
		basePath:  abs,
		ttl:       cfg.Global.MetadataTTL.DurationValue(),
		userAgent: cfg.Global.UserAgent,
		logger:    logger,
		now:       time.Now,
		index:     make(map[string]struct{}),
		locks:     make(map[string]*entryLock),
	}

	if cfg.Uplinked() {
		uplink, err := url.Parse(strings.TrimSuffix(cfg.Global.Uplink, "/"))
		if err != nil {
			return nil, fmt.Errorf("invalid uplink: %w", err)
		}
		s.uplink = uplink
		s.client = upstream.NewClient(upstream.Options{
			Timeout:   cfg.Global.UplinkTimeout.DurationValue(),
			StrictSSL: true,
		})
	}
	return s, nil
}

// Init 创建存储目录并扫描已有的包索引。只允许调用一次。
func (s *Local) Init(ctx context.Context, _ *config.Config, filters []MetadataFilter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return ErrAlreadyInitialized
	}
	if err := os.MkdirAll(s.basePath, 0o755); err != nil {
		return fmt.Errorf("create storage path: %w", err)
	}

	index, err := s.scan(ctx)
	if err != nil {
		return err
	}

	s.index = index
	s.filters = append([]MetadataFilter(nil), filters...)
	s.initialized = true

	s.logger.WithFields(logrus.Fields{
		"action":   "storage_init",
		"path":     s.basePath,
		"packages": len(index),
		"filters":  len(filters),
		"uplink":   s.uplinkString(),
	}).Info("storage ready")
	return nil
}

func (s *Local) scan(ctx context.Context) (map[string]struct{}, error) {
	index := make(map[string]struct{})
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("scan storage: %w", err)
	}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if strings.HasPrefix(entry.Name(), "@") {
			scoped, err := os.ReadDir(filepath.Join(s.basePath, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("scan scope %s: %w", entry.Name(), err)
			}
			for _, pkg := range scoped {
				name := entry.Name() + "/" + pkg.Name()
				if pkg.IsDir() && s.hasManifest(name) {
					index[name] = struct{}{}
				}
			}
			continue
		}
		if s.hasManifest(entry.Name()) {
			index[entry.Name()] = struct{}{}
		}
	}
	return index, nil
}

func (s *Local) hasManifest(name string) bool {
	info, err := os.Stat(filepath.Join(s.basePath, filepath.FromSlash(name), manifestFile))
	return err == nil && !info.IsDir()
}

func (s *Local) ready() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return ErrNotInitialized
	}
	return nil
}

// GetPackage 依次尝试本地发布、未过期的上游缓存、上游回源、过期缓存，最后统一执行过滤器。
func (s *Local) GetPackage(ctx context.Context, name string) (*Manifest, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	manifest, err := s.resolveManifest(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.applyFilters(ctx, manifest)
}

func (s *Local) resolveManifest(ctx context.Context, name string) (*Manifest, error) {
	if err := validatePackageName(name); err != nil {
		return nil, err
	}

	local, err := s.readManifest(name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if local != nil && (local.Cache == nil || s.fresh(local.Cache)) {
		return local, nil
	}
	if s.uplink == nil {
		if local != nil {
			return local, nil
		}
		return nil, ErrNotFound
	}

	remote, err := s.fetchManifest(ctx, name, local)
	if err == nil {
		return remote, nil
	}
	if local != nil && !errors.Is(err, ErrNotFound) {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"action":  "uplink_fetch",
			"package": name,
		}).Warn("uplink failed, serving stale manifest")
		return local, nil
	}
	return nil, err
}

func (s *Local) fresh(info *CacheInfo) bool {
	if s.ttl <= 0 {
		return false
	}
	fetched := time.UnixMilli(info.FetchedAt)
	return s.now().Before(fetched.Add(s.ttl))
}

// applyFilters 按声明顺序执行过滤器；单个过滤器失败时保留此前结果并记录错误。
func (s *Local) applyFilters(ctx context.Context, manifest *Manifest) (*Manifest, error) {
	s.mu.RLock()
	filters := s.filters
	s.mu.RUnlock()

	if len(filters) == 0 {
		return manifest, nil
	}

	current := manifest
	var errs []error
	for i, filter := range filters {
		input, err := current.Clone()
		if err != nil {
			return nil, err
		}
		out, err := filter.FilterMetadata(ctx, input)
		if err != nil {
			errs = append(errs, fmt.Errorf("filter #%d: %w", i, err))
			continue
		}
		if out != nil {
			current = out
		}
	}
	if len(errs) > 0 {
		s.logger.WithError(errors.Join(errs...)).WithFields(logrus.Fields{
			"action":  "filter_metadata",
			"package": manifest.Name,
		}).Error("metadata filter failed")
	}
	return current, nil
}

func (s *Local) readManifest(name string) (*Manifest, error) {
	raw, err := os.ReadFile(s.manifestPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", name, err)
	}
	return &manifest, nil
}

// ReadPackage 读取磁盘上的原始 manifest，供发布流程合并版本使用。
func (s *Local) ReadPackage(_ context.Context, name string) (*Manifest, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validatePackageName(name); err != nil {
		return nil, err
	}
	return s.readManifest(name)
}

// SavePackage 写入本地发布的 manifest，并清除上游缓存标记。
func (s *Local) SavePackage(ctx context.Context, name string, manifest *Manifest) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := validatePackageName(name); err != nil {
		return err
	}
	if manifest == nil {
		return errors.New("manifest is nil")
	}

	stored, err := manifest.Clone()
	if err != nil {
		return err
	}
	stored.Attachments = nil
	stored.Cache = nil
	return s.writeManifest(ctx, name, stored)
}

// writeManifest 落盘后登记索引，发布与上游镜像两条路径共用，保证与重启后 scan 的结果一致。
func (s *Local) writeManifest(ctx context.Context, name string, manifest *Manifest) error {
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if _, err := s.writeFile(ctx, s.manifestPath(name), strings.NewReader(string(raw))); err != nil {
		return err
	}
	s.remember(name)
	return nil
}

// remember 复制 name 后再作为索引键，调用方的字符串可能指向会被复用的请求缓冲区。
func (s *Local) remember(name string) {
	key := strings.Clone(name)
	s.mu.Lock()
	s.index[key] = struct{}{}
	s.mu.Unlock()
}

// GetTarball 优先读取本地文件，缺失时根据 manifest 中的 dist.tarball 回源并写入磁盘。
func (s *Local) GetTarball(ctx context.Context, name, filename string) (*Tarball, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if err := validatePackageName(name); err != nil {
		return nil, err
	}
	if err := validateFilename(filename); err != nil {
		return nil, err
	}

	tarball, err := s.openTarball(name, filename)
	if err == nil || !errors.Is(err, ErrNotFound) || s.uplink == nil {
		return tarball, err
	}

	manifest, err := s.resolveManifest(ctx, name)
	if err != nil {
		return nil, err
	}
	source := tarballURL(manifest, filename)
	if source == "" {
		return nil, ErrNotFound
	}
	if err := s.fetchTarball(ctx, name, filename, source); err != nil {
		return nil, err
	}
	return s.openTarball(name, filename)
}

func (s *Local) openTarball(name, filename string) (*Tarball, error) {
	path := s.tarballPath(name, filename)
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, ErrNotFound
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &Tarball{Reader: f, SizeBytes: info.Size()}, nil
}

// PutTarball 原子写入 tarball。
func (s *Local) PutTarball(ctx context.Context, name, filename string, body io.Reader) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := validatePackageName(name); err != nil {
		return err
	}
	if err := validateFilename(filename); err != nil {
		return err
	}
	_, err := s.writeFile(ctx, s.tarballPath(name, filename), body)
	return err
}

// ListPackages 返回本地已知的包名（按字典序）。
func (s *Local) ListPackages(_ context.Context) ([]string, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	names := make([]string, 0, len(s.index))
	for name := range s.index {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names, nil
}

// Search 只在本地索引中匹配名称与描述，不回源。
func (s *Local) Search(ctx context.Context, text string) ([]SearchResult, error) {
	names, err := s.ListPackages(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(text))

	var results []SearchResult
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		manifest, err := s.readManifest(name)
		if err != nil {
			continue
		}
		manifest, err = s.applyFilters(ctx, manifest)
		if err != nil {
			return nil, err
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(manifest.Name), needle) &&
			!strings.Contains(strings.ToLower(manifest.Description), needle) {
			continue
		}
		result := SearchResult{Name: manifest.Name, Description: manifest.Description}
		if latest := manifest.LatestVersion(); latest != nil {
			result.Version = latest.Version
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Local) manifestPath(name string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(name), manifestFile)
}

func (s *Local) tarballPath(name, filename string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(name), filename)
}

func (s *Local) uplinkString() string {
	if s.uplink == nil {
		return ""
	}
	return s.uplink.String()
}

// writeFile 通过临时文件 + rename 保证原子写入，失败时清理临时文件。
func (s *Local) writeFile(ctx context.Context, target string, body io.Reader) (int64, error) {
	unlock := s.lockEntry(target)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(target), ".tmp-*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, target); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

func (s *Local) lockEntry(key string) func() {
	s.lockMu.Lock()
	lock := s.locks[key]
	if lock == nil {
		lock = &entryLock{}
		s.locks[key] = lock
	}
	lock.refs++
	s.lockMu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.lockMu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, key)
		}
		s.lockMu.Unlock()
	}
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}

func validatePackageName(name string) error {
	if name == "" || strings.ContainsAny(name, "\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	parts := strings.Split(name, "/")
	switch {
	case len(parts) == 1:
	case len(parts) == 2 && strings.HasPrefix(parts[0], "@") && len(parts[0]) > 1:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, part := range parts {
		if part == "" || strings.HasPrefix(part, ".") {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

func validateFilename(filename string) error {
	if filename == "" || filename == manifestFile || strings.HasPrefix(filename, ".") ||
		strings.ContainsAny(filename, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, filename)
	}
	return nil
}
