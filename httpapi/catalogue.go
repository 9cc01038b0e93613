package httpapi

import (
	"net/http"

	"storj.io/cratesregistry/apierr"
	"storj.io/cratesregistry/database"
)

const summaryLimit = 10

type summaryCrateWire struct {
	Name           string `json:"name"`
	MaxVersion     string `json:"max_version"`
	Description    string `json:"description,omitempty"`
	TotalDownloads int64  `json:"total_downloads"`
}

func newSummaryCrateWire(s database.CrateSummary) summaryCrateWire {
	return summaryCrateWire{
		Name:           s.Crate.Name,
		MaxVersion:     s.MaxVersionNum,
		Description:    s.Crate.Description.String,
		TotalDownloads: s.TotalDownloads,
	}
}

func summaryWireList(in []database.CrateSummary) []summaryCrateWire {
	out := make([]summaryCrateWire, 0, len(in))
	for _, s := range in {
		out = append(out, newSummaryCrateWire(s))
	}
	return out
}

// handleSummary serves the homepage panels: newest, just-updated, and
// most-downloaded crates.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	newest, err := database.ListNewestCrates(ctx, s.DB, summaryLimit)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	justUpdated, err := database.ListJustUpdated(ctx, s.DB, summaryLimit)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	mostDownloaded, err := database.ListMostDownloaded(ctx, s.DB, summaryLimit)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		NewCrates      []summaryCrateWire `json:"new_crates"`
		JustUpdated    []summaryCrateWire `json:"just_updated"`
		MostDownloaded []summaryCrateWire `json:"most_downloaded"`
	}{summaryWireList(newest), summaryWireList(justUpdated), summaryWireList(mostDownloaded)})
}

func (s *Server) handleCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := database.ListCategories(r.Context(), s.DB)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Categories []database.Category `json:"categories"`
	}{cats})
}

func (s *Server) handleKeywords(w http.ResponseWriter, r *http.Request) {
	kws, err := database.ListKeywords(r.Context(), s.DB)
	if err != nil {
		apierr.WriteResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Keywords []database.Keyword `json:"keywords"`
	}{kws})
}
