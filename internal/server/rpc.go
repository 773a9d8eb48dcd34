package server

import (
	"net/http"

	"github.com/powerman/rpc-codec/jsonrpc2"
)

// JSON-RPC error codes returned by Fertilizer.ScanOne.
const (
	CodeNotFound      = 1
	CodeAlreadyExists = 2
	CodeBadRequest    = 3
)

// ScanOneRequest is the argument of Fertilizer.ScanOne.
type ScanOneRequest struct {
	InfoHash string
}

// ScanOneResponse is the reply of Fertilizer.ScanOne.
type ScanOneResponse struct {
	Path                string
	Tracker             string
	PreviouslyGenerated bool
}

type rpcHandler struct {
	server *Server
}

func (h *rpcHandler) ScanOne(args *ScanOneRequest, reply *ScanOneResponse) error {
	res, err := h.server.scan(h.server.ctx, args.InfoHash)
	if err != nil {
		switch statusCode(err) {
		case http.StatusNotFound:
			return jsonrpc2.NewError(CodeNotFound, err.Error())
		case http.StatusConflict:
			return jsonrpc2.NewError(CodeAlreadyExists, err.Error())
		case http.StatusBadRequest:
			return jsonrpc2.NewError(CodeBadRequest, err.Error())
		default:
			return err
		}
	}
	reply.Path = res.Path
	reply.Tracker = res.Tracker.ShortName
	reply.PreviouslyGenerated = res.PreviouslyGenerated
	return nil
}
