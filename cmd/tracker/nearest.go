package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bustracker/internal/proximity"
)

var nearestCmd = &cobra.Command{
	Use:   "nearest <lat> <lng>",
	Short: "Find the stop nearest to a coordinate on a route",
	Args:  cobra.ExactArgs(2),
	RunE:  nearest,
}

var nearestRoute string

func init() {
	nearestCmd.Flags().StringVarP(&nearestRoute, "route", "r", "", "Route id")
	_ = nearestCmd.MarkFlagRequired("route")
}

func nearest(cmd *cobra.Command, args []string) error {
	point, err := parsePoint(args[0], args[1])
	if err != nil {
		return err
	}
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	routes, err := loadRoutes(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	stops, ok := routes[nearestRoute]
	if !ok {
		return fmt.Errorf("route %q not in catalog", nearestRoute)
	}

	m := proximity.DetermineNearbyStop(point, proximity.SortBySequence(stops), cfg.ThresholdKm)
	if m.Kind == proximity.MatchNone {
		return fmt.Errorf("route %q has no stops", nearestRoute)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "nearest=%s seq=%d dist=%.3fkm match=%s\n",
		m.Nearest.ID, m.Nearest.Sequence, m.NearestKm, m.Kind)
	if m.Kind == proximity.MatchFallback && cfg.Fallback {
		fmt.Fprintf(cmd.OutOrStdout(), "fallback=%s seq=%d dist=%.3fkm\n", m.Stop.ID, m.Stop.Sequence, m.DistanceKm)
	}
	return nil
}

func parsePoint(latS, lngS string) (proximity.GeoPoint, error) {
	lat, err := strconv.ParseFloat(latS, 64)
	if err != nil {
		return proximity.GeoPoint{}, fmt.Errorf("invalid latitude %q", latS)
	}
	lng, err := strconv.ParseFloat(lngS, 64)
	if err != nil {
		return proximity.GeoPoint{}, fmt.Errorf("invalid longitude %q", lngS)
	}
	p := proximity.GeoPoint{Latitude: lat, Longitude: lng}
	if !p.IsFinite() || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return proximity.GeoPoint{}, fmt.Errorf("coordinate %v,%v out of range", lat, lng)
	}
	return p, nil
}
