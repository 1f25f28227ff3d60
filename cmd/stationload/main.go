package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/serjvanilla/go-overpass"
	"go.uber.org/zap"

	"github.com/stationtracker/tracker-core-go/internal/config"
	"github.com/stationtracker/tracker-core-go/internal/logger"
	"github.com/stationtracker/tracker-core-go/internal/models"
)

// seedStation is a catalog entry before polygon enrichment.
type seedStation struct {
	Name     string
	NameKana string
	Lat      float64
	Lng      float64
}

// JR山手線の駅データ
var yamanoteStations = []seedStation{
	{"東京", "トウキョウ", 35.6812, 139.7671},
	{"有楽町", "ユウラクチョウ", 35.6754, 139.7634},
	{"新橋", "シンバシ", 35.6658, 139.7583},
	{"浜松町", "ハママツチョウ", 35.6556, 139.7570},
	{"田町", "タマチ", 35.6456, 139.7476},
	{"品川", "シナガワ", 35.6289, 139.7390},
	{"大崎", "オオサキ", 35.6197, 139.7286},
	{"五反田", "ゴタンダ", 35.6258, 139.7238},
	{"目黒", "メグロ", 35.6332, 139.7156},
	{"恵比寿", "エビス", 35.6466, 139.7100},
	{"渋谷", "シブヤ", 35.6580, 139.7016},
	{"原宿", "ハラジュク", 35.6702, 139.7026},
	{"代々木", "ヨヨギ", 35.6832, 139.7022},
	{"新宿", "シンジュク", 35.6896, 139.7006},
	{"新大久保", "シンオオクボ", 35.7007, 139.7006},
	{"高田馬場", "タカダノババ", 35.7122, 139.7037},
	{"目白", "メジロ", 35.7211, 139.7060},
	{"池袋", "イケブクロ", 35.7295, 139.7109},
	{"大塚", "オオツカ", 35.7312, 139.7288},
	{"巣鴨", "スガモ", 35.7339, 139.7394},
	{"駒込", "コマゴメ", 35.7369, 139.7467},
	{"田端", "タバタ", 35.7378, 139.7607},
	{"西日暮里", "ニシニッポリ", 35.7321, 139.7668},
	{"日暮里", "ニッポリ", 35.7277, 139.7710},
	{"鶯谷", "ウグイスダニ", 35.7207, 139.7782},
	{"上野", "ウエノ", 35.7139, 139.7774},
	{"御徒町", "オカチマチ", 35.7075, 139.7745},
	{"秋葉原", "アキハバラ", 35.6984, 139.7731},
	{"神田", "カンダ", 35.6919, 139.7709},
}

// stationload builds the station catalog JSON the tracker consumes: the seed
// list enriched with polygon boundaries pulled from OSM Overpass.
func main() {
	out := flag.String("out", "stations.json", "output catalog path")
	endpoint := flag.String("overpass", "https://overpass-api.de/api/interpreter", "Overpass API endpoint")
	skipPolygons := flag.Bool("skip-polygons", false, "write the catalog without querying Overpass")
	line := flag.String("line", "JR山手線", "line tag applied to every station")
	flag.Parse()

	cfg := config.Load()
	logr := logger.New(cfg.Environment)
	defer logr.Sync()

	client := overpass.NewWithSettings(*endpoint, 1, &http.Client{Timeout: 30 * time.Second})

	stations := make([]models.Station, 0, len(yamanoteStations))
	for i, seed := range yamanoteStations {
		station := models.Station{
			ID:        int64(i + 1),
			Name:      seed.Name,
			NameKana:  seed.NameKana,
			Latitude:  seed.Lat,
			Longitude: seed.Lng,
			Line:      *line,
		}

		if !*skipPolygons {
			polygon, err := fetchPolygon(&client, seed)
			if err != nil {
				logr.Warn("no polygon for station",
					zap.String("station", seed.Name), zap.Error(err))
			} else {
				station.PolygonData = polygon
				logr.Info("polygon fetched", zap.String("station", seed.Name))
			}
			// Be polite to the public Overpass instance.
			time.Sleep(time.Second)
		}

		stations = append(stations, station)
	}

	data, err := json.MarshalIndent(stations, "", "  ")
	if err != nil {
		logr.Fatal("failed to encode catalog", zap.Error(err))
	}
	if err := os.WriteFile(*out, data, 0o644); err != nil {
		logr.Fatal("failed to write catalog", zap.Error(err))
	}

	logr.Info("catalog written",
		zap.String("path", *out), zap.Int("stations", len(stations)))
}

// fetchPolygon asks Overpass for station or station-building ways near the
// seed coordinates and converts the first closed way into a GeoJSON polygon.
func fetchPolygon(client *overpass.Client, seed seedStation) (string, error) {
	query := fmt.Sprintf(`
		[out:json][timeout:25];
		(
			way["railway"="station"]["name"~"%s"](around:200,%f,%f);
			way["building"]["name"~"%s"](around:200,%f,%f);
		);
		out geom;
	`, seed.Name, seed.Lat, seed.Lng, seed.Name, seed.Lat, seed.Lng)

	result, err := client.Query(query)
	if err != nil {
		return "", fmt.Errorf("overpass query failed: %w", err)
	}

	for _, way := range result.Ways {
		if len(way.Nodes) < 3 {
			continue
		}

		ring := make([][]float64, 0, len(way.Nodes)+1)
		for _, node := range way.Nodes {
			ring = append(ring, []float64{node.Lon, node.Lat})
		}
		// GeoJSON rings close on the first position.
		if ring[0][0] != ring[len(ring)-1][0] || ring[0][1] != ring[len(ring)-1][1] {
			ring = append(ring, ring[0])
		}

		polygon := map[string]interface{}{
			"type":        "Polygon",
			"coordinates": [][][]float64{ring},
		}
		data, err := json.Marshal(polygon)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	return "", fmt.Errorf("no closed way found near %s", seed.Name)
}
