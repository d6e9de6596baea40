package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// AssetCategories lists sticker/caption categories the client can offer in
// its preference UI.
func (a *App) AssetCategories(w http.ResponseWriter, r *http.Request) {
	if a.Assets == nil {
		a.json(w, http.StatusOK, []string{})
		return
	}
	categories, err := a.Assets.Categories()
	if err != nil {
		a.Logger.Warn().Err(err).Msg("http: list asset categories failed")
		a.json(w, http.StatusInternalServerError, map[string]string{"error": "asset store unavailable"})
		return
	}
	a.json(w, http.StatusOK, categories)
}

// AssetImages lists the images inside one category.
func (a *App) AssetImages(w http.ResponseWriter, r *http.Request) {
	if a.Assets == nil {
		a.json(w, http.StatusNotFound, map[string]string{"error": "no asset store configured"})
		return
	}
	category := chi.URLParam(r, "category")
	images, err := a.Assets.Images(category)
	if err != nil {
		a.json(w, http.StatusNotFound, map[string]string{"error": "unknown category"})
		return
	}
	a.json(w, http.StatusOK, images)
}
