package matcher

import (
	"sort"

	"github.com/example/taxi-dispatch/internal/eta"
	"github.com/example/taxi-dispatch/internal/models"
	"github.com/example/taxi-dispatch/internal/observability"
)

// Geo supplies candidate drivers around a point. The in-memory location
// store and the Redis GEO index both satisfy this.
type Geo interface {
	Nearby(c models.Coord, radiusMeters float64, limit int) []models.NearbyDriver
}

// Service ranks nearby online drivers for a pickup point. Cheap enough to
// run synchronously on every dispatch request.
type Service struct {
	Geo             Geo
	Fallback        Geo // optional; consulted when Geo yields nothing
	DefaultSpeedMps float64
	TopN            int
	Cache           *eta.Cache // optional ETA cache for repeat queries
}

// FindNearby returns at most limit drivers within radiusMeters of c,
// ascending by distance with driver id as the deterministic tie-break.
// Zero qualifying drivers yields an empty slice, never an error.
func (s *Service) FindNearby(c models.Coord, radiusMeters float64, limit int) []models.NearbyDriver {
	if limit <= 0 {
		limit = s.TopN
	}
	if limit <= 0 {
		limit = 10
	}
	observability.MatchQueriesTotal.Inc()

	cands := s.Geo.Nearby(c, radiusMeters, limit)
	if len(cands) == 0 && s.Fallback != nil {
		cands = s.Fallback.Nearby(c, radiusMeters, limit)
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].DistanceMeters != cands[j].DistanceMeters {
			return cands[i].DistanceMeters < cands[j].DistanceMeters
		}
		return cands[i].DriverID < cands[j].DriverID
	})
	if len(cands) > limit {
		cands = cands[:limit]
	}

	out := make([]models.NearbyDriver, 0, len(cands))
	for _, d := range cands {
		d.EtaSeconds = s.etaFor(d.Coord, c, d.DistanceMeters)
		out = append(out, d)
	}
	return out
}

func (s *Service) etaFor(from, to models.Coord, distanceMeters float64) float64 {
	if s.Cache != nil {
		if v, ok := s.Cache.Get(from, to); ok {
			return v
		}
	}
	v := eta.EstimateSeconds(distanceMeters, s.DefaultSpeedMps)
	if s.Cache != nil {
		s.Cache.Set(from, to, v)
	}
	return v
}
