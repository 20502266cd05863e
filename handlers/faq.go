package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"echomind/store"
)

// FAQHandler serves the read-only FAQ collection.
type FAQHandler struct {
	faqStore *store.FAQStore
}

func NewFAQHandler(faqStore *store.FAQStore) *FAQHandler {
	return &FAQHandler{faqStore: faqStore}
}

// List returns every FAQ entry.
func (h *FAQHandler) List(c *gin.Context) {
	faqs, err := h.faqStore.List(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to list FAQs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list FAQs"})
		return
	}
	c.JSON(http.StatusOK, faqs)
}
