package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"dualbond/core/sqrtprice"
	"dualbond/native/bond"
)

const pricePrecision = 8

type settlementView struct {
	SqrtPriceX96  string `json:"sqrtPriceX96"`
	Price         string `json:"price"`
	LockedAt      int64  `json:"lockedAt"`
	WindowSeconds uint32 `json:"windowSeconds"`
}

type bondView struct {
	Address              string          `json:"address"`
	Name                 string          `json:"name,omitempty"`
	Symbol               string          `json:"symbol"`
	Decimals             uint8           `json:"decimals"`
	StableAsset          string          `json:"stableAsset"`
	StableDecimals       uint8           `json:"stableDecimals"`
	InvertPrice          bool            `json:"invertPrice"`
	SecondaryAsset       string          `json:"secondaryAsset"`
	StableCap            string          `json:"stableCap"`
	IssuanceDeadline     int64           `json:"issuanceDeadline"`
	Maturity             int64           `json:"maturity"`
	StrikeSqrtPriceX96   string          `json:"strikeSqrtPriceX96"`
	StrikePrice          string          `json:"strikePrice"`
	Owner                string          `json:"owner"`
	PriceOracle          string          `json:"priceOracle"`
	TotalStableDeposited string          `json:"totalStableDeposited"`
	ClaimSupply          string          `json:"claimSupply"`
	Phase                string          `json:"phase"`
	Settlement           *settlementView `json:"settlement"`
}

func newBondView(b *bond.Bond, phase bond.Phase) bondView {
	view := bondView{
		Address:              b.Address.Hex(),
		Name:                 b.Params.Name,
		Symbol:               b.Params.Symbol,
		Decimals:             b.Params.Decimals,
		StableAsset:          b.Params.StableAsset,
		StableDecimals:       b.Params.StableScale(),
		InvertPrice:          b.Params.InvertPrice,
		SecondaryAsset:       b.Params.SecondaryAsset,
		StableCap:            b.Params.StableCap.Dec(),
		IssuanceDeadline:     b.Params.IssuanceDeadline,
		Maturity:             b.Params.Maturity,
		StrikeSqrtPriceX96:   b.Params.StrikePrice.Dec(),
		StrikePrice:          sqrtprice.PriceString(b.Params.StrikePrice, pricePrecision),
		Owner:                b.Params.Owner.Hex(),
		PriceOracle:          b.PriceOracle.Hex(),
		TotalStableDeposited: b.TotalStableDeposited.Dec(),
		ClaimSupply:          b.Claims.Supply().Dec(),
		Phase:                phase.String(),
	}
	if b.Settlement.IsLocked() {
		price := b.Settlement.Price()
		view.Settlement = &settlementView{
			SqrtPriceX96:  price.Dec(),
			Price:         sqrtprice.PriceString(price, pricePrecision),
			LockedAt:      b.Settlement.LockedAt(),
			WindowSeconds: b.Settlement.WindowSeconds(),
		}
	}
	return view
}

type redemptionView struct {
	Holder           string `json:"holder"`
	ClaimsBurned     string `json:"claimsBurned"`
	StableEquivalent string `json:"stableEquivalent"`
	Dust             string `json:"dust"`
	Branch           string `json:"branch"`
	StablePaid       string `json:"stablePaid"`
	SecondaryMinted  string `json:"secondaryMinted"`
	SettlementPrice  string `json:"settlementSqrtPriceX96"`
	Finalized        bool   `json:"finalized"`
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

type amountRequest struct {
	Amount string `json:"amount"`
}

type transferRequest struct {
	From    string `json:"from,omitempty"`
	To      string `json:"to"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

type oracleRequest struct {
	Pool string `json:"pool"`
}

type rescueRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

func decodeBody(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

func parseAmount(raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: amount required", errBadRequest)
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: amount %q: %v", errBadRequest, raw, err)
	}
	return amount, nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, fmt.Errorf("%w: %s %q is not an address", errBadRequest, field, raw)
	}
	return common.HexToAddress(raw), nil
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Any("error", err))
	}
	writeProblem(w, status, err.Error())
}

func (s *Server) engine(r *http.Request) (*bond.Engine, error) {
	addr, err := parseAddress("bond", chi.URLParam(r, "bond"))
	if err != nil {
		return nil, err
	}
	engine, ok := s.registry.Get(addr)
	if !ok {
		return nil, fmt.Errorf("%w: bond %s", errNotFound, addr.Hex())
	}
	return engine, nil
}

func caller(r *http.Request) (common.Address, error) {
	addr, ok := CallerFromContext(r.Context())
	if !ok {
		return common.Address{}, fmt.Errorf("%w: caller not authenticated", bond.ErrUnauthorized)
	}
	return addr, nil
}

func (s *Server) listBonds(w http.ResponseWriter, r *http.Request) {
	addrs := s.registry.List()
	out := make([]bondView, 0, len(addrs))
	for _, addr := range addrs {
		engine, ok := s.registry.Get(addr)
		if !ok {
			continue
		}
		b, err := engine.Snapshot()
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, newBondView(b, engine.Phase()))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getBond(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engine(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	b, err := engine.Snapshot()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newBondView(b, engine.Phase()))
}

func (s *Server) getClaims(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engine(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	holder, err := parseAddress("holder", chi.URLParam(r, "holder"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body := map[string]string{
		"bond":    engine.Address().Hex(),
		"holder":  holder.Hex(),
		"balance": engine.ClaimBalance(holder).Dec(),
	}
	if raw := r.URL.Query().Get("spender"); raw != "" {
		spender, err := parseAddress("spender", raw)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		body["spender"] = spender.Hex()
		body["allowance"] = engine.ClaimAllowance(holder, spender).Dec()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	engine, err := s.engine(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.events == nil {
		writeProblem(w, http.StatusServiceUnavailable, "event journal disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			s.fail(w, r, fmt.Errorf("%w: limit %q", errBadRequest, raw))
			return
		}
	}
	entries, err := s.events.List(r.Context(), engine.Address(), r.URL.Query().Get("type"), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getAssetBalance(w http.ResponseWriter, r *http.Request) {
	holder, err := parseAddress("holder", chi.URLParam(r, "holder"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	symbol := chi.URLParam(r, "symbol")
	info, err := s.ledger.Info(symbol)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	balance, err := s.ledger.BalanceOf(info.Symbol, holder)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"asset":    info.Symbol,
		"decimals": info.Decimals,
		"holder":   holder.Hex(),
		"balance":  balance.Dec(),
	})
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	engine, from, err := s.writeTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	minted, err := engine.Deposit(r.Context(), from, amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"bond":          engine.Address().Hex(),
		"holder":        from.Hex(),
		"claimsMinted":  minted.Dec(),
		"claimBalance":  engine.ClaimBalance(from).Dec(),
		"stableDeposit": amount.Dec(),
	})
}

func (s *Server) redeem(w http.ResponseWriter, r *http.Request) {
	engine, from, err := s.writeTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req amountRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	receipt, err := engine.Redeem(r.Context(), from, amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, redemptionView{
		Holder:           receipt.Holder.Hex(),
		ClaimsBurned:     dec(receipt.ClaimsBurned),
		StableEquivalent: dec(receipt.StableEquivalent),
		Dust:             dec(receipt.Dust),
		Branch:           string(receipt.Branch),
		StablePaid:       dec(receipt.StablePaid),
		SecondaryMinted:  dec(receipt.SecondaryMinted),
		SettlementPrice:  dec(receipt.SettlementPrice),
		Finalized:        receipt.Finalized,
	})
}

func (s *Server) finalize(w http.ResponseWriter, r *http.Request) {
	engine, _, err := s.writeTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	settlement, err := engine.Finalize(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	price := settlement.Price()
	writeJSON(w, http.StatusOK, settlementView{
		SqrtPriceX96:  price.Dec(),
		Price:         sqrtprice.PriceString(price, pricePrecision),
		LockedAt:      settlement.LockedAt(),
		WindowSeconds: settlement.WindowSeconds(),
	})
}

func (s *Server) transferClaims(w http.ResponseWriter, r *http.Request) {
	engine, from, err := s.writeTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := engine.TransferClaims(from, to, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"from":   from.Hex(),
		"to":     to.Hex(),
		"amount": amount.Dec(),
	})
}

func (s *Server) transferClaimsFrom(w http.ResponseWriter, r *http.Request) {
	engine, spender, err := s.writeTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	from, err := parseAddress("from", req.From)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := engine.TransferClaimsFrom(spender, from, to, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"spender": spender.Hex(),
		"from":    from.Hex(),
		"to":      to.Hex(),
		"amount":  amount.Dec(),
	})
}

func (s *Server) approveClaims(w http.ResponseWriter, r *http.Request) {
	engine, owner, err := s.writeTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(req.Amount))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: amount %q: %v", errBadRequest, req.Amount, err))
		return
	}
	if err := engine.ApproveClaims(owner, spender, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": amount.Dec(),
	})
}

func (s *Server) setOracle(w http.ResponseWriter, r *http.Request) {
	engine, from, err := s.writeTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	capability, err := engine.OwnerCapability(from)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req oracleRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	pool, err := parseAddress("pool", req.Pool)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := engine.SetPriceOracle(capability, pool); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"bond":        engine.Address().Hex(),
		"priceOracle": pool.Hex(),
	})
}

func (s *Server) rescue(w http.ResponseWriter, r *http.Request) {
	engine, from, err := s.writeTarget(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	capability, err := engine.OwnerCapability(from)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req rescueRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := s.ledger.Asset(req.Asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := engine.Rescue(r.Context(), capability, asset, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"bond":   engine.Address().Hex(),
		"asset":  asset.Symbol(),
		"to":     capability.Owner().Hex(),
		"amount": amount.Dec(),
	})
}

func (s *Server) approveAsset(w http.ResponseWriter, r *http.Request) {
	owner, err := caller(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	spender, err := parseAddress("spender", req.Spender)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amount, err := uint256.FromDecimal(strings.TrimSpace(req.Amount))
	if err != nil {
		s.fail(w, r, fmt.Errorf("%w: amount %q: %v", errBadRequest, req.Amount, err))
		return
	}
	info, err := s.ledger.Info(chi.URLParam(r, "symbol"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.ledger.Approve(info.Symbol, owner, spender, amount); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":     info.Symbol,
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": amount.Dec(),
	})
}

func (s *Server) writeTarget(r *http.Request) (*bond.Engine, common.Address, error) {
	from, err := caller(r)
	if err != nil {
		return nil, common.Address{}, err
	}
	engine, err := s.engine(r)
	if err != nil {
		return nil, common.Address{}, err
	}
	return engine, from, nil
}
