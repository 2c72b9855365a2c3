package handler

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"

	"github.com/peopledoc/samlsp"
)

// MetadataHandlerFunc serves the provider's metadata document. Options are
// passed through to samlsp.ServiceProvider.CreateMetadata.
func MetadataHandlerFunc(sp *samlsp.ServiceProvider, opt ...samlsp.Option) (http.HandlerFunc, error) {
	const op = "handler.MetadataHandlerFunc"

	if sp == nil {
		return nil, fmt.Errorf("%s: missing service provider: %w", op, samlsp.ErrInvalidParameter)
	}

	logger := loggerOf(sp)

	return func(w http.ResponseWriter, r *http.Request) {
		meta := sp.CreateMetadata(opt...)

		w.Header().Set("Content-Type", "application/samlmetadata+xml")
		if _, err := io.WriteString(w, xml.Header); err != nil {
			return
		}
		if err := xml.NewEncoder(w).Encode(meta); err != nil {
			logger.Error("failed to serve metadata", "error", err)
		}
	}, nil
}
