package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/agentcasino/channel/agent"
	"github.com/agentcasino/channel/casinoerr"
	"github.com/agentcasino/channel/channel"
	"github.com/agentcasino/channel/rng"
	"github.com/agentcasino/channel/weimath"
)

// Handler dispatches agent-to-engine messages onto a channel.Engine.
type Handler struct {
	engine *channel.Engine
	// rngStore is optional: set via SetRNGStore to expose the alternate
	// verifiable-RNG path alongside the default commit-reveal games. A
	// Handler with no rngStore simply rejects rng_* methods.
	rngStore *rng.Store
}

// NewHandler creates an RPC Handler wrapping engine.
func NewHandler(engine *channel.Engine) *Handler {
	return &Handler{engine: engine}
}

// SetRNGStore wires store's request/fulfill/settle/expire round machine
// into the handler's rng_* methods.
func (h *Handler) SetRNGStore(store *rng.Store) {
	h.rngStore = store
}

// verifyAgentAuth checks the request-level AgentPubKey/AgentSig against
// claimedAgent, the agent address named inside req.Params. Requests that
// carry neither are left unauthenticated — transport-level auth is the
// deployment's concern — but any request that does present credentials
// must have them check out.
func verifyAgentAuth(req Request, claimedAgent string) error {
	if req.AgentPubKey == "" && req.AgentSig == "" {
		return nil
	}
	pub, err := hex.DecodeString(req.AgentPubKey)
	if err != nil {
		return casinoerr.NewCryptographic("rpc: invalid agentPubKey hex: %v", err)
	}
	if addr := agent.AddressFromPubKey(agent.PublicKey(pub)); addr != claimedAgent {
		return casinoerr.NewCryptographic("rpc: agentPubKey derives to %s, request claims %s", addr, claimedAgent)
	}
	if err := agent.Verify(agent.PublicKey(pub), req.Params, req.AgentSig); err != nil {
		return err
	}
	return nil
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "open_channel":
		return h.openChannel(req)
	case "close_channel":
		return h.closeChannel(req)
	case "channel_status":
		return h.channelStatus(req)
	case "rng_request":
		return h.rngRequest(req)
	case "rng_fulfill":
		return h.rngFulfill(req)
	case "rng_settle":
		return h.rngSettle(req)
	case "rng_expire":
		return h.rngExpire(req)
	case "rng_status":
		return h.rngStatus(req)
	default:
		if game, action, ok := strings.Cut(req.Method, "_"); ok {
			return h.gameAction(req, game, action)
		}
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func errorCode(err error) int {
	switch err.(type) {
	case *casinoerr.Validation:
		return CodeInvalidParams
	case *casinoerr.Policy, *casinoerr.Liveness:
		return CodeInvalidRequest
	default:
		return CodeInternalError
	}
}

func (h *Handler) openChannel(req Request) Response {
	var params struct {
		Agent        string `json:"agent"`
		AgentDeposit string `json:"agentDeposit"`
		HouseDeposit string `json:"houseDeposit"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	agentDeposit, err := weimath.ToWei(params.AgentDeposit)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	houseDeposit, err := weimath.ToWei(params.HouseDeposit)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := verifyAgentAuth(req, params.Agent); err != nil {
		return errResponse(req.ID, CodeUnauthorized, err.Error())
	}
	ch, signed, err := h.engine.OpenChannel(params.Agent, agentDeposit, houseDeposit)
	if err != nil {
		return errResponse(req.ID, errorCode(err), err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"status":       ch.Status.String(),
		"agentBalance": weimath.ToDecimal(ch.AgentBalance),
		"houseBalance": weimath.ToDecimal(ch.HouseBalance),
		"nonce":        signed.Nonce,
		"signature":    signed.Signature,
	})
}

func (h *Handler) closeChannel(req Request) Response {
	var params struct {
		Agent string `json:"agent"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := verifyAgentAuth(req, params.Agent); err != nil {
		return errResponse(req.ID, CodeUnauthorized, err.Error())
	}
	before, err := h.engine.GetStatus(params.Agent)
	if err != nil {
		return errResponse(req.ID, errorCode(err), err.Error())
	}
	totalGames := len(before.Games)
	signed, err := h.engine.CloseChannel(params.Agent)
	if err != nil {
		return errResponse(req.ID, errorCode(err), err.Error())
	}
	agentBalanceWei, _ := new(big.Int).SetString(signed.AgentBalance, 10)
	houseBalanceWei, _ := new(big.Int).SetString(signed.CasinoBalance, 10)
	return okResponse(req.ID, map[string]any{
		"agentBalance": weimath.ToDecimal(agentBalanceWei),
		"houseBalance": weimath.ToDecimal(houseBalanceWei),
		"nonce":        signed.Nonce,
		"signature":    signed.Signature,
		"totalGames":   totalGames,
	})
}

func (h *Handler) channelStatus(req Request) Response {
	var params struct {
		Agent string `json:"agent"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := verifyAgentAuth(req, params.Agent); err != nil {
		return errResponse(req.ID, CodeUnauthorized, err.Error())
	}
	ch, err := h.engine.GetStatus(params.Agent)
	if err != nil {
		return errResponse(req.ID, errorCode(err), err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"status":       ch.Status.String(),
		"agentBalance": weimath.ToDecimal(ch.AgentBalance),
		"houseBalance": weimath.ToDecimal(ch.HouseBalance),
		"nonce":        ch.Nonce,
		"gamesPlayed":  len(ch.Games),
		"invariantOk":  ch.InvariantOK(),
	})
}

func (h *Handler) gameAction(req Request, game, action string) Response {
	var params struct {
		Agent string `json:"agent"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := verifyAgentAuth(req, params.Agent); err != nil {
		return errResponse(req.ID, CodeUnauthorized, err.Error())
	}
	result, signed, err := h.engine.HandleAction(params.Agent, game, action, req.Params)
	if err != nil {
		return errResponse(req.ID, errorCode(err), err.Error())
	}
	out, ok := result.(map[string]any)
	if !ok {
		out = map[string]any{"result": result}
	}
	if signed.Signature != "" {
		agentBalanceWei, _ := new(big.Int).SetString(signed.AgentBalance, 10)
		houseBalanceWei, _ := new(big.Int).SetString(signed.CasinoBalance, 10)
		out["agentBalance"] = weimath.ToDecimal(agentBalanceWei)
		out["houseBalance"] = weimath.ToDecimal(houseBalanceWei)
		out["nonce"] = signed.Nonce
		out["signature"] = signed.Signature
	}
	return okResponse(req.ID, out)
}

func roundResponse(reqID any, r *rng.Round) Response {
	return okResponse(reqID, map[string]any{
		"requestId": r.RequestID,
		"agent":     r.Agent,
		"state":     r.State.String(),
		"result":    r.Result,
	})
}

func (h *Handler) rngRequest(req Request) Response {
	if h.rngStore == nil {
		return errResponse(req.ID, CodeMethodNotFound, "rpc: verifiable-rng path not configured")
	}
	var params struct {
		RequestID string `json:"requestId"`
		Agent     string `json:"agent"`
		Bet       string `json:"bet"`
		Choice    string `json:"choice"`
		FeePaid   string `json:"feePaid"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err := verifyAgentAuth(req, params.Agent); err != nil {
		return errResponse(req.ID, CodeUnauthorized, err.Error())
	}
	r, err := h.rngStore.Request(params.RequestID, params.Agent, params.Bet, params.Choice, params.FeePaid)
	if err != nil {
		return errResponse(req.ID, errorCode(err), err.Error())
	}
	return roundResponse(req.ID, r)
}

func (h *Handler) rngFulfill(req Request) Response {
	if h.rngStore == nil {
		return errResponse(req.ID, CodeMethodNotFound, "rpc: verifiable-rng path not configured")
	}
	var params struct {
		RequestID   string `json:"requestId"`
		CallerAddr  string `json:"callerAddr"`
		RandomValue string `json:"randomValue"` // hex-encoded
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	randomValue, err := hex.DecodeString(params.RandomValue)
	if err != nil {
		return errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("rpc: invalid randomValue hex: %v", err))
	}
	r, err := h.rngStore.Fulfill(params.RequestID, params.CallerAddr, randomValue)
	if err != nil {
		return errResponse(req.ID, errorCode(err), err.Error())
	}
	return roundResponse(req.ID, r)
}

func (h *Handler) rngSettle(req Request) Response {
	if h.rngStore == nil {
		return errResponse(req.ID, CodeMethodNotFound, "rpc: verifiable-rng path not configured")
	}
	var params struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	r, err := h.rngStore.Settle(params.RequestID)
	if err != nil {
		return errResponse(req.ID, errorCode(err), err.Error())
	}
	return roundResponse(req.ID, r)
}

func (h *Handler) rngExpire(req Request) Response {
	if h.rngStore == nil {
		return errResponse(req.ID, CodeMethodNotFound, "rpc: verifiable-rng path not configured")
	}
	var params struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	r, err := h.rngStore.Expire(params.RequestID)
	if err != nil {
		return errResponse(req.ID, errorCode(err), err.Error())
	}
	return roundResponse(req.ID, r)
}

func (h *Handler) rngStatus(req Request) Response {
	if h.rngStore == nil {
		return errResponse(req.ID, CodeMethodNotFound, "rpc: verifiable-rng path not configured")
	}
	var params struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	r := h.rngStore.Get(params.RequestID)
	if r == nil {
		return errResponse(req.ID, CodeInvalidRequest, fmt.Sprintf("rpc: unknown request id %q", params.RequestID))
	}
	return roundResponse(req.ID, r)
}
