package ca

import (
	"net/http"

	"c2core/internal/ca"
	"c2core/internal/httpx"

	"github.com/gin-gonic/gin"
)

// Handler handles certificate authority requests
type Handler struct {
	engine *ca.Engine
}

// NewHandler creates a new CA handler
func NewHandler(engine *ca.Engine) *Handler {
	return &Handler{engine: engine}
}

// RootCert serves the root certificate for agent and operator trust
// bootstrapping.
// GET /api/v1/ca/cert
func (h *Handler) RootCert(c *gin.Context) {
	c.Data(http.StatusOK, "application/x-pem-file", []byte(h.engine.CACertPEM()))
}

// CRL serves the revocation list, one cert id per line.
// GET /api/v1/ca/crl
func (h *Handler) CRL(c *gin.Context) {
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(h.engine.RevocationList()))
}

// List returns every issued leaf certificate still on disk.
// GET /api/v1/ca/certs
func (h *Handler) List(c *gin.Context) {
	certs, err := h.engine.ListCertificates()
	if err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to list certificates", err))
		return
	}
	httpx.OK(c, certs)
}

// Revoke adds a certificate to the revocation set.
// POST /api/v1/ca/revoke
func (h *Handler) Revoke(c *gin.Context) {
	var req struct {
		CertID string `json:"certId" binding:"required"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
		return
	}

	if err := h.engine.Revoke(req.CertID, req.Reason); err != nil {
		httpx.FailErr(c, httpx.ErrInternalError("failed to revoke certificate", err))
		return
	}
	httpx.OK(c, gin.H{"revoked": true})
}

// Check reports whether a certificate has been revoked.
// GET /api/v1/ca/check?certId=...
func (h *Handler) Check(c *gin.Context) {
	certID := c.Query("certId")
	if certID == "" {
		httpx.FailErr(c, httpx.ErrParamMissing("certId is required"))
		return
	}
	httpx.OK(c, gin.H{
		"certId":  certID,
		"revoked": h.engine.IsRevoked(certID),
	})
}
