package main

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/txnkv/kv/transaction/mvcc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/unrolled/render"
)

type storeHandler struct {
	s  store
	rd *render.Render
}

func newStoreHandler(s store, rd *render.Render) *storeHandler {
	return &storeHandler{
		s:  s,
		rd: rd,
	}
}

// Stats serves the map's counters and versions.
func (h *storeHandler) Stats(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.s.Stats())
}

// Accounts serves every committed balance.
func (h *storeHandler) Accounts(w http.ResponseWriter, r *http.Request) {
	h.rd.JSON(w, http.StatusOK, h.s.Snapshot())
}

func (h *storeHandler) Account(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	v, ok := h.s.Snapshot()[mvcc.IntKey(id)]
	if !ok {
		h.rd.JSON(w, http.StatusNotFound, "account not found")
		return
	}
	h.rd.JSON(w, http.StatusOK, v)
}

func newStatusRouter(s store) *mux.Router {
	rd := render.New(render.Options{
		IndentJSON: true,
	})
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	h := newStoreHandler(s, rd)
	router.HandleFunc("/debug/store", h.Stats).Methods("GET")
	router.HandleFunc("/debug/store/accounts", h.Accounts).Methods("GET")
	router.HandleFunc("/debug/store/accounts/{id}", h.Account).Methods("GET")
	return router
}
