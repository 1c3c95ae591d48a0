package server

import (
	"errors"
	"net/http"
	"strings"

	"lendpool/core/protocol"
	"lendpool/crypto"
)

func (s *Server) adminRoutes() []route {
	return []route{
		{http.MethodPost, "/roles", "set_role", s.setRole},
		{http.MethodPost, "/pause", "set_paused", s.setPaused},
		{http.MethodPost, "/asset/mint", "mint_asset", s.mintAsset},
	}
}

func (s *Server) setRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		writeBadRequest(w, errors.New("role is required"))
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.execute(w, r, "set_role", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		if req.Granted {
			return nil, e.Access.Grant(caller, role, addr)
		}
		return nil, e.Access.Revoke(caller, role, addr)
	})
}

func (s *Server) setPaused(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	module := strings.TrimSpace(req.Module)
	if module == "" {
		writeBadRequest(w, errors.New("module is required"))
		return
	}
	s.execute(w, r, "set_paused", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		return nil, e.Access.SetPaused(caller, module, req.Paused)
	})
}

// mintAsset issues the in-process liquidity asset. Only the configured asset
// minter may call it.
func (s *Server) mintAsset(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeRequest(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := s.units.parse("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	s.execute(w, r, "mint_asset", func(caller crypto.Address, e *protocol.Engines) (any, error) {
		return nil, e.Asset.Mint(caller, to, amount)
	})
}
