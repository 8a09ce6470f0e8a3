// Package dcntest implements an in-process stub of the DCN API. It backs the
// SDK's own tests and doubles as a local mock service for development
// ("dcn mock"). The stub enforces the real protocol: single-use nonces,
// EIP-191 signature verification over the exact login message, ES256 token
// pairs with refresh rotation and revocation.
package dcntest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dcn "github.com/hypermusic-ai/dcn-sdk"
	"github.com/hypermusic-ai/dcn-sdk/wallet"
)

const (
	defaultVersion  = "0.1.0-stub"
	defaultNonceTTL = 5 * time.Minute
)

// Server is one stub DCN deployment. Features and transformations are kept
// in memory; auth state lives in the configured Store.
type Server struct {
	router    *gin.Engine
	tokens    *tokenizer
	store     Store
	publisher message.Publisher

	version       string
	balance       decimal.Decimal
	nonceTTL      time.Duration
	rotateRefresh bool

	mu                   sync.RWMutex
	features             map[string]map[string]dcn.Feature
	featureLatest        map[string]string
	transformations      map[string]map[string]dcn.Transformation
	transformationLatest map[string]string
}

// Option configures a Server.
type Option func(*Server)

// WithStore replaces the default in-memory auth store.
func WithStore(store Store) Option {
	return func(s *Server) { s.store = store }
}

// WithPublisher attaches an event publisher for login/refresh events.
func WithPublisher(publisher message.Publisher) Option {
	return func(s *Server) { s.publisher = publisher }
}

// WithRefreshRotation controls whether /refresh rotates the refresh token.
// When disabled the response carries only a new access token and the old
// refresh token stays valid, which is a behavior the real service may
// exhibit and clients must handle.
func WithRefreshRotation(enabled bool) Option {
	return func(s *Server) { s.rotateRefresh = enabled }
}

// WithVersion sets the string reported by GET /version.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// WithBalance sets the balance reported for every account.
func WithBalance(balance decimal.Decimal) Option {
	return func(s *Server) { s.balance = balance }
}

// WithAccessTTL shortens or extends the stub's access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Server) { s.tokens.accessTTL = ttl }
}

// New builds a stub server with a fresh ES256 signing key.
func New(opts ...Option) (*Server, error) {
	signKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate signing key: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		router:               gin.New(),
		tokens:               newTokenizer(signKey),
		store:                NewMemoryStore(),
		version:              defaultVersion,
		balance:              decimal.NewFromInt(1000),
		nonceTTL:             defaultNonceTTL,
		rotateRefresh:        true,
		features:             make(map[string]map[string]dcn.Feature),
		featureLatest:        make(map[string]string),
		transformations:      make(map[string]map[string]dcn.Transformation),
		transformationLatest: make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRoutes()
	return s, nil
}

// Handler exposes the stub as an http.Handler, ready for httptest.NewServer
// or http.ListenAndServe.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/version", s.handleVersion)
	s.router.GET("/nonce/:address", s.handleNonce)
	s.router.POST("/auth", s.handleAuth)
	s.router.POST("/refresh", s.handleRefresh)
	s.router.GET("/feature/:name", s.handleGetFeature)
	s.router.GET("/feature/:name/:version", s.handleGetFeature)
	s.router.GET("/transformation/:name", s.handleGetTransformation)
	s.router.GET("/transformation/:name/:version", s.handleGetTransformation)

	protected := s.router.Group("/")
	protected.Use(s.authMiddleware())
	{
		protected.GET("/account/:address", s.handleAccount)
		protected.POST("/feature", s.handleCreateFeature)
		protected.POST("/transformation", s.handleCreateTransformation)
		protected.GET("/execute/:feature/:samples", s.handleExecute)
		protected.GET("/execute/:feature/:samples/:instances", s.handleExecute)
	}
}

// authMiddleware validates the bearer access token and rejects tokens whose
// originating refresh token has been revoked.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if len(auth) < 8 || auth[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		claims, err := s.tokens.parseAccess(auth[7:])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired access token"})
			return
		}

		if claims.RefreshID != "" {
			_, revoked, err := s.store.Get(c.Request.Context(), revokedKey(claims.RefreshID))
			if err != nil {
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "store failure"})
				return
			}
			if revoked {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has been revoked"})
				return
			}
		}

		c.Set("address", claims.Subject)
		c.Next()
	}
}

func (s *Server) handleVersion(c *gin.Context) {
	c.JSON(http.StatusOK, dcn.VersionResponse{Version: s.version})
}

func (s *Server) handleNonce(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}

	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate nonce"})
		return
	}
	nonce := hex.EncodeToString(nonceBytes)

	if err := s.store.Set(c.Request.Context(), nonceKey(address), nonce, s.nonceTTL); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store failure"})
		return
	}

	c.JSON(http.StatusOK, dcn.NonceResponse{Address: address, Nonce: nonce})
}

func (s *Server) handleAuth(c *gin.Context) {
	var req struct {
		Address   string `json:"address" binding:"required"`
		Message   string `json:"message" binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	nonce, found, err := s.store.Get(c.Request.Context(), nonceKey(req.Address))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store failure"})
		return
	}
	if !found {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown or expired nonce"})
		return
	}
	if req.Message != dcn.LoginMessage(nonce) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unexpected login message"})
		return
	}

	recovered, err := wallet.RecoverAddress(req.Message, req.Signature)
	if err != nil || recovered != common.HexToAddress(req.Address) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	// Nonces are single-use: consume before issuing tokens so a replayed
	// exchange is rejected.
	if err := s.store.Delete(c.Request.Context(), nonceKey(req.Address)); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store failure"})
		return
	}

	refreshID := uuid.NewString()
	accessToken, err := s.tokens.issueAccess(req.Address, uuid.NewString(), refreshID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create access token"})
		return
	}
	refreshToken, err := s.tokens.issueRefresh(req.Address, refreshID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}

	s.publish(TopicLogin, AuthEvent{Address: req.Address, RefreshID: refreshID})

	c.JSON(http.StatusOK, dcn.AuthResponse{AccessToken: accessToken, RefreshToken: refreshToken})
}

func (s *Server) handleRefresh(c *gin.Context) {
	refreshToken := c.GetHeader("X-Refresh-Token")
	if refreshToken == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing refresh token"})
		return
	}

	claims, err := s.tokens.parseRefresh(refreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}

	_, revoked, err := s.store.Get(c.Request.Context(), revokedKey(claims.ID))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store failure"})
		return
	}
	if revoked {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "refresh token has been revoked"})
		return
	}

	address := claims.Subject

	if !s.rotateRefresh {
		accessToken, err := s.tokens.issueAccess(address, uuid.NewString(), claims.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create access token"})
			return
		}
		s.publish(TopicRefresh, AuthEvent{Address: address, RefreshID: claims.ID})
		c.JSON(http.StatusOK, dcn.RefreshResponse{AccessToken: accessToken})
		return
	}

	// Rotation: the old refresh token is revoked for its remaining lifetime
	// and a fresh pair is issued.
	remaining := time.Until(claims.ExpiresAt.Time)
	if err := s.store.Set(c.Request.Context(), revokedKey(claims.ID), "revoked", remaining); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store failure"})
		return
	}

	newRefreshID := uuid.NewString()
	accessToken, err := s.tokens.issueAccess(address, uuid.NewString(), newRefreshID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create access token"})
		return
	}
	newRefreshToken, err := s.tokens.issueRefresh(address, newRefreshID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create refresh token"})
		return
	}

	s.publish(TopicRefresh, AuthEvent{Address: address, RefreshID: newRefreshID})

	c.JSON(http.StatusOK, dcn.RefreshResponse{AccessToken: accessToken, RefreshToken: newRefreshToken})
}

func (s *Server) handleAccount(c *gin.Context) {
	address := c.Param("address")
	if !common.IsHexAddress(address) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid address"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}
	page, err := strconv.Atoi(c.DefaultQuery("page", "0"))
	if err != nil || page < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid page"})
		return
	}

	owner := common.HexToAddress(address)

	s.mu.RLock()
	var features, transformations []dcn.OwnedResource
	for name, version := range s.featureLatest {
		f := s.features[name][version]
		if common.HexToAddress(f.Owner) == owner {
			features = append(features, dcn.OwnedResource{Name: f.Name, Version: f.Version})
		}
	}
	for name, version := range s.transformationLatest {
		tr := s.transformations[name][version]
		if common.HexToAddress(tr.Owner) == owner {
			transformations = append(transformations, dcn.OwnedResource{Name: tr.Name, Version: tr.Version})
		}
	}
	s.mu.RUnlock()

	sort.Slice(features, func(i, j int) bool { return features[i].Name < features[j].Name })
	sort.Slice(transformations, func(i, j int) bool { return transformations[i].Name < transformations[j].Name })

	c.JSON(http.StatusOK, dcn.AccountInfo{
		Address:         address,
		Balance:         s.balance,
		Features:        paginate(features, limit, page),
		Transformations: paginate(transformations, limit, page),
		Limit:           limit,
		Page:            page,
	})
}

func (s *Server) handleGetFeature(c *gin.Context) {
	name := c.Param("name")
	version := c.Param("version")

	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, exists := s.features[name]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "feature not found"})
		return
	}
	if version == "" {
		version = s.featureLatest[name]
	}
	feature, exists := versions[version]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "feature version not found"})
		return
	}
	c.JSON(http.StatusOK, feature)
}

func (s *Server) handleCreateFeature(c *gin.Context) {
	var req dcn.NewFeature
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	feature := dcn.Feature{
		Name:       req.Name,
		Version:    uuid.NewString(),
		Owner:      c.GetString("address"),
		Dimensions: req.Dimensions,
	}

	s.mu.Lock()
	if s.features[feature.Name] == nil {
		s.features[feature.Name] = make(map[string]dcn.Feature)
	}
	s.features[feature.Name][feature.Version] = feature
	s.featureLatest[feature.Name] = feature.Version
	s.mu.Unlock()

	c.JSON(http.StatusOK, feature)
}

func (s *Server) handleGetTransformation(c *gin.Context) {
	name := c.Param("name")
	version := c.Param("version")

	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, exists := s.transformations[name]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "transformation not found"})
		return
	}
	if version == "" {
		version = s.transformationLatest[name]
	}
	transformation, exists := versions[version]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "transformation version not found"})
		return
	}
	c.JSON(http.StatusOK, transformation)
}

func (s *Server) handleCreateTransformation(c *gin.Context) {
	var req dcn.NewTransformation
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	transformation := dcn.Transformation{
		Name:    req.Name,
		Version: uuid.NewString(),
		Owner:   c.GetString("address"),
		SolSrc:  req.SolSrc,
	}

	s.mu.Lock()
	if s.transformations[transformation.Name] == nil {
		s.transformations[transformation.Name] = make(map[string]dcn.Transformation)
	}
	s.transformations[transformation.Name][transformation.Version] = transformation
	s.transformationLatest[transformation.Name] = transformation.Version
	s.mu.Unlock()

	c.JSON(http.StatusOK, transformation)
}

// handleExecute serves both execute path shapes. The third segment, when
// present, must survive routing with its bracket grammar intact; it is
// decoded with the SDK's own codec.
func (s *Server) handleExecute(c *gin.Context) {
	name := c.Param("feature")
	numSamples, err := strconv.ParseUint(c.Param("samples"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sample count"})
		return
	}

	var instances []dcn.RunningInstance
	if encoded := c.Param("instances"); encoded != "" {
		instances, err = dcn.DecodeRunningInstances(encoded)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	s.mu.RLock()
	versions, exists := s.features[name]
	feature := versions[s.featureLatest[name]]
	s.mu.RUnlock()
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "feature not found"})
		return
	}

	dims := len(feature.Dimensions)
	if dims == 0 {
		dims = 1
	}

	// Deterministic samples: dimension d of sample i starts at the instance
	// id of pair d and advances by its count; unparameterized dimensions
	// just count samples.
	samples := make([][]uint64, numSamples)
	for i := range samples {
		row := make([]uint64, dims)
		for d := range row {
			if d < len(instances) {
				row[d] = instances[d].Instance + uint64(i)*instances[d].Count
			} else {
				row[d] = uint64(i)
			}
		}
		samples[i] = row
	}

	c.JSON(http.StatusOK, dcn.ExecuteResponse{Feature: name, Samples: samples})
}

func paginate(resources []dcn.OwnedResource, limit, page int) []dcn.OwnedResource {
	if limit == 0 {
		return nil
	}
	start := page * limit
	if start >= len(resources) {
		return nil
	}
	end := start + limit
	if end > len(resources) {
		end = len(resources)
	}
	return resources[start:end]
}

func nonceKey(address string) string {
	return "nonce:" + strings.ToLower(address)
}

func revokedKey(refreshID string) string {
	return "revoked:" + refreshID
}
