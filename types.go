package dcn

import "github.com/shopspring/decimal"

// VersionResponse reports the deployed API version.
type VersionResponse struct {
	Version string `json:"version"`
}

// NonceResponse is the ephemeral login challenge issued per address. The
// nonce is single-use from the server's perspective; the client consumes it
// immediately to build the login message.
type NonceResponse struct {
	Address string `json:"address"`
	Nonce   string `json:"nonce"`
}

// AuthRequest is the token-exchange payload. Message must be the exact
// string that was signed: the server re-derives it from the issued nonce and
// compares.
type AuthRequest struct {
	Address   string `json:"address"`
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// AuthResponse carries the token pair issued on a successful login.
type AuthResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse carries the rotated access token. RefreshToken is empty
// when the server chose not to rotate the refresh token.
type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// TransformationRef names a transformation applied within a feature
// dimension, with its call arguments.
type TransformationRef struct {
	Name string  `json:"name"`
	Args []int64 `json:"args"`
}

// Dimension is one axis of a feature: a reference to another feature and the
// chain of transformations applied to it.
type Dimension struct {
	FeatureName     string              `json:"feature_name"`
	Transformations []TransformationRef `json:"transformations"`
}

// NewFeature is the creation payload for POST /feature.
type NewFeature struct {
	Name       string      `json:"name"`
	Dimensions []Dimension `json:"dimensions"`
}

// Feature is a named, versioned resource composed of dimensions.
type Feature struct {
	Name       string      `json:"name"`
	Version    string      `json:"version"`
	Owner      string      `json:"owner,omitempty"`
	Dimensions []Dimension `json:"dimensions"`
}

// NewTransformation is the creation payload for POST /transformation.
type NewTransformation struct {
	Name   string `json:"name"`
	SolSrc string `json:"sol_src"`
}

// Transformation is a named, versioned resource defined by source code
// executed server-side.
type Transformation struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Owner   string `json:"owner,omitempty"`
	SolSrc  string `json:"sol_src"`
}

// OwnedResource is a name/version pair listed under an account.
type OwnedResource struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// AccountInfo describes an on-platform account and a page of the resources
// it owns.
type AccountInfo struct {
	Address         string          `json:"address"`
	Balance         decimal.Decimal `json:"balance"`
	Features        []OwnedResource `json:"features"`
	Transformations []OwnedResource `json:"transformations"`
	Limit           int             `json:"limit"`
	Page            int             `json:"page"`
}

// ExecuteResponse carries the samples generated by an execute call, one row
// per sample, one column per feature dimension.
type ExecuteResponse struct {
	Feature string     `json:"feature"`
	Samples [][]uint64 `json:"samples"`
}
