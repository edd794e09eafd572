package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sirupsen/logrus"
)

// fetchManifest 向上游请求 manifest，携带 If-None-Match 以复用本地副本；成功后落盘。
func (s *Local) fetchManifest(ctx context.Context, name string, local *Manifest) (*Manifest, error) {
	target := s.uplink.String() + "/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	if local != nil && local.Cache != nil && local.Cache.ETag != "" {
		req.Header.Set("If-None-Match", local.Cache.ETag)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUplinkUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && local != nil && local.Cache != nil:
		local.Cache = &CacheInfo{FetchedAt: s.now().UnixMilli(), ETag: local.Cache.ETag}
		if err := s.writeManifest(ctx, name, local); err != nil {
			return nil, err
		}
		return local, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: %s returned %d", ErrUplinkUnavailable, target, resp.StatusCode)
	}

	var manifest Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrUplinkUnavailable, target, err)
	}
	if manifest.Name == "" {
		manifest.Name = name
	}
	manifest.Cache = &CacheInfo{FetchedAt: s.now().UnixMilli(), ETag: resp.Header.Get("ETag")}
	if err := s.writeManifest(ctx, name, &manifest); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"action":   "uplink_fetch",
		"package":  name,
		"versions": len(manifest.Versions),
	}).Debug("manifest mirrored")
	return &manifest, nil
}

func (s *Local) fetchTarball(ctx context.Context, name, filename, source string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return err
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUplinkUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return ErrNotFound
	default:
		return fmt.Errorf("%w: %s returned %d", ErrUplinkUnavailable, source, resp.StatusCode)
	}

	_, err = s.writeFile(ctx, s.tarballPath(name, filename), resp.Body)
	return err
}

// tarballURL 在 manifest 中查找文件名匹配的 dist.tarball 地址。
func tarballURL(manifest *Manifest, filename string) string {
	for _, version := range manifest.Versions {
		if version == nil || version.Dist.Tarball == "" {
			continue
		}
		parsed, err := url.Parse(version.Dist.Tarball)
		if err != nil {
			continue
		}
		if path.Base(parsed.Path) == filename {
			return version.Dist.Tarball
		}
	}
	return ""
}

// TarballFilename 返回 dist.tarball 中的文件名部分。
func TarballFilename(tarball string) string {
	if parsed, err := url.Parse(tarball); err == nil && parsed.Path != "" {
		return path.Base(parsed.Path)
	}
	return path.Base(strings.TrimSpace(tarball))
}
