package midas

import (
	"log/slog"

	"github.com/opencdms/opencdms-process/internal/provider"
)

func init() {
	provider.Register(Family, func(logger *slog.Logger) provider.Family {
		return provider.Family{
			Name:       Family,
			Vocabulary: Vocabulary(),
			Reader:     NewReader(logger),
		}
	})
}
