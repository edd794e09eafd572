package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/any-registry/internal/auth"
	"github.com/any-hub/any-registry/internal/httperr"
	"github.com/any-hub/any-registry/internal/storage"
)

func (h *handler) getByPath(c fiber.Ctx) error {
	ref, ok := parseRef(pathSegments(c))
	if !ok {
		return c.Next()
	}
	if err := h.requireAccess(c, ref.name); err != nil {
		return err
	}

	if ref.filename != "" {
		return h.sendTarball(c, ref)
	}

	manifest, err := h.store.GetPackage(c.Context(), ref.name)
	if err != nil {
		return storageError(err, httperr.MsgNoSuchPackage)
	}
	rewriteTarballs(manifest, baseURL(c))
	manifest.Cache = nil

	if ref.version == "" {
		return c.JSON(manifest)
	}

	version := ref.version
	if tagged, ok := manifest.DistTags[version]; ok {
		version = tagged
	}
	v, ok := manifest.Versions[version]
	if !ok || v == nil {
		return httperr.NotFound("version not found: " + ref.version)
	}
	return c.JSON(v)
}

func (h *handler) sendTarball(c fiber.Ctx, ref packageRef) error {
	tarball, err := h.store.GetTarball(c.Context(), ref.name, ref.filename)
	if err != nil {
		return storageError(err, httperr.MsgNoSuchFile)
	}
	c.Set(fiber.HeaderContentType, "application/octet-stream")
	return c.SendStream(tarball.Reader, int(tarball.SizeBytes))
}

// rewriteTarballs 将 dist.tarball 指向本 registry，客户端后续下载经由本服务。
func rewriteTarballs(manifest *storage.Manifest, base string) {
	for _, v := range manifest.Versions {
		if v == nil || v.Dist.Tarball == "" {
			continue
		}
		v.Dist.Tarball = base + "/" + manifest.Name + "/-/" + storage.TarballFilename(v.Dist.Tarball)
	}
}

func (h *handler) publish(c fiber.Ctx) error {
	ref, ok := parseRef([]string{c.Params("p1"), c.Params("p2")})
	if !ok || ref.version != "" || ref.filename != "" {
		return c.Next()
	}
	if err := h.requirePublish(c, ref.name); err != nil {
		return err
	}

	var incoming storage.Manifest
	if err := json.Unmarshal(c.Body(), &incoming); err != nil {
		return httperr.Wrap(fiber.StatusBadRequest, httperr.MsgBadPackageData, err)
	}
	if incoming.Name != ref.name || len(incoming.Versions) == 0 {
		return httperr.BadRequest(httperr.MsgBadPackageData)
	}

	ctx := c.Context()
	existing, err := h.store.ReadPackage(ctx, ref.name)
	switch {
	case err == nil:
	case errors.Is(err, storage.ErrNotFound):
		existing = &storage.Manifest{Name: ref.name, Versions: map[string]*storage.Version{}}
	default:
		return storageError(err, httperr.MsgNoSuchPackage)
	}
	if existing.Versions == nil {
		existing.Versions = map[string]*storage.Version{}
	}
	if existing.Time == nil {
		existing.Time = map[string]string{}
	}
	if existing.DistTags == nil {
		existing.DistTags = map[string]string{}
	}

	for key := range incoming.Versions {
		if _, exists := existing.Versions[key]; exists {
			return httperr.Conflict(httperr.MsgVersionExists)
		}
	}

	for filename, attachment := range incoming.Attachments {
		if attachment == nil {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(attachment.Data)
		if err != nil {
			return httperr.Wrap(fiber.StatusBadRequest, httperr.MsgBadPackageData, err)
		}
		if err := h.store.PutTarball(ctx, ref.name, filename, bytes.NewReader(data)); err != nil {
			return storageError(err, httperr.MsgNoSuchFile)
		}
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for key, v := range incoming.Versions {
		existing.Versions[key] = v
		existing.Time[key] = now
	}
	for tag, target := range incoming.DistTags {
		existing.DistTags[tag] = target
	}
	if incoming.Description != "" {
		existing.Description = incoming.Description
	}
	if incoming.Readme != "" {
		existing.Readme = incoming.Readme
	}
	if _, ok := existing.Time["created"]; !ok {
		existing.Time["created"] = now
	}
	existing.Time["modified"] = now
	existing.NormalizeDistTags()

	if err := h.store.SavePackage(ctx, ref.name, existing); err != nil {
		return storageError(err, httperr.MsgNoSuchPackage)
	}

	h.logger.WithFields(logrus.Fields{
		"action":   "publish",
		"package":  ref.name,
		"versions": len(incoming.Versions),
		"user":     auth.RemoteUser(c).Name,
	}).Info("package published")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": "created new package"})
}
