package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ppiankov/krowser/internal/explorer"
)

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	topics, err := s.explorer.Topics(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, topics)
}

func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	detail, err := s.explorer.TopicDetail(r.Context(), mux.Vars(r)["topic"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleTopicOffsets(w http.ResponseWriter, r *http.Request) {
	offsets, err := s.explorer.Offsets(r.Context(), mux.Vars(r)["topic"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offsets)
}

func (s *Server) handleTopicGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.explorer.TopicGroups(r.Context(), mux.Vars(r)["topic"], true)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleTopicConfig(w http.ResponseWriter, r *http.Request) {
	entries, err := s.explorer.TopicConfig(r.Context(), mux.Vars(r)["topic"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleBrokerConfig(w http.ResponseWriter, r *http.Request) {
	broker, err := parseInt32("broker", mux.Vars(r)["broker"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	entries, err := s.explorer.BrokerConfig(r.Context(), broker)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	cluster, err := s.explorer.Cluster(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cluster)
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.explorer.Groups(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) handleMembers(w http.ResponseWriter, r *http.Request) {
	members, err := s.explorer.GroupMembers(r.Context(), mux.Vars(r)["group"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (s *Server) handleDecoders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.explorer.Decoders())
}

func (s *Server) handleOffsetForTimestamp(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	partition, err := parseInt32("partition", vars["partition"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	timestamp, err := parseInt64("timestamp", vars["timestamp"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	offset, err := s.explorer.OffsetForTimestamp(r.Context(), vars["topic"], partition, timestamp)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"offset": offset})
}

func (s *Server) handleOffsetsForTimestamp(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	timestamp, err := parseInt64("timestamp", vars["timestamp"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	offsets, err := s.explorer.OffsetsForTimestamp(r.Context(), vars["topic"], timestamp)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, offsets)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	partition, err := parseInt32("partition", vars["partition"])
	if err != nil {
		writeError(w, r, err)
		return
	}

	q, err := messageQuery(vars["topic"], partition, r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.explorer.Messages(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// messageQuery reads limit, offset, search, search_style, timeout (ms),
// trace and decoder from params.
func messageQuery(topic string, partition int32, params url.Values) (explorer.MessageQuery, error) {
	q := explorer.NewMessageQuery(topic, partition)

	var err error
	if v := params.Get("limit"); v != "" {
		if q.Limit, err = parseInt64("limit", v); err != nil {
			return q, err
		}
	}
	if v := params.Get("offset"); v != "" {
		if q.Offset, err = parseInt64("offset", v); err != nil {
			return q, err
		}
	}
	if v := params.Get("timeout"); v != "" {
		ms, err := parseInt64("timeout", v)
		if err != nil {
			return q, err
		}
		if ms <= 0 {
			return q, fmt.Errorf("timeout must be positive: %w", explorer.ErrInvalidQuery)
		}
		q.Timeout = time.Duration(ms) * time.Millisecond
	}
	if q.SearchStyle, err = explorer.ParseSearchStyle(params.Get("search_style")); err != nil {
		return q, err
	}
	q.Search = params.Get("search")
	q.Decoder = params.Get("decoder")

	if params.Has("trace") {
		v := params.Get("trace")
		if v == "" {
			q.Trace = true
		} else if q.Trace, err = strconv.ParseBool(v); err != nil {
			return q, fmt.Errorf("trace %q: %w", v, explorer.ErrInvalidQuery)
		}
	}
	return q, nil
}

func parseInt32(name, v string) (int32, error) {
	n, err := strconv.ParseInt(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number: %w", name, v, explorer.ErrInvalidQuery)
	}
	return int32(n), nil
}

func parseInt64(name, v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not a number: %w", name, v, explorer.ErrInvalidQuery)
	}
	return n, nil
}
