package controllers

import (
	"encoding/base64"
	"net/http"
	"strings"

	"aidanwoods.dev/go-paseto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/voxroom-project/backend/internal/cctx"
	"github.com/voxroom-project/backend/internal/jsonrpc"
	"github.com/voxroom-project/backend/internal/orchestrator"
	"github.com/voxroom-project/backend/internal/router"
)

var _ router.Controller = (*CommandController)(nil)

// CommandController exposes the voice command surface as JSON-RPC over
// websocket and plain HTTP. The dispatch collaborator authenticates
// with a paseto service token; the acting guild member is always an
// explicit argument of the RPC methods.
type CommandController struct {
	Orchestrator  *orchestrator.Orchestrator
	SessionSecret string

	sessionKey  paseto.V4AsymmetricSecretKey
	tokenParser paseto.Parser
	rpc         *rpc.Server
}

func (c *CommandController) Register(router *mux.Router) {
	var err error
	if c.sessionKey, err = loadPasetoPrivateKey(c.SessionSecret); err != nil {
		zap.L().Error("failed to decode session private key, using random key", zap.Error(err))
		c.sessionKey = paseto.NewV4AsymmetricSecretKey()
	}

	c.tokenParser = paseto.MakeParser([]paseto.Rule{
		paseto.IssuedBy("voxroom"),
		paseto.NotExpired(),
	})

	c.rpc = rpc.NewServer()
	if err = c.rpc.RegisterName("voice", jsonrpc.NewVoiceService(c.Orchestrator)); err != nil {
		zap.L().Fatal("failed to register voice rpc service", zap.Error(err))
	}

	router.Handle("/voice/ws", c.authenticated(c.rpc.WebsocketHandler([]string{"*"}))).
		Methods(http.MethodGet)
	router.Handle("/voice/rpc", c.authenticated(c.rpc)).
		Methods(http.MethodPost)
}

func (c *CommandController) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dispatcherID, err := c.dispatcherFromRequest(r)
		if err != nil {
			zap.L().Debug("rejected unauthenticated dispatcher", zap.Error(err))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		ctx := cctx.WithValues(r.Context(), cctx.DispatcherID, dispatcherID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (c *CommandController) dispatcherFromRequest(r *http.Request) (dispatcherID string, err error) {
	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	var token *paseto.Token
	if token, err = c.tokenParser.ParseV4Public(c.sessionKey.Public(), raw, nil); err != nil {
		return
	}

	dispatcherID, err = token.GetSubject()
	return
}

func loadPasetoPrivateKey(sessionSecret string) (key paseto.V4AsymmetricSecretKey, err error) {
	var decoded []byte
	if decoded, err = base64.StdEncoding.DecodeString(sessionSecret); err != nil {
		return
	}

	return paseto.NewV4AsymmetricSecretKeyFromBytes(decoded)
}
