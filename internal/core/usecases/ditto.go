package usecases

import (
	"encoding/json"
	"io"
	"math"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// DittoThing is a transmitter in Eclipse Ditto's thing layout.
type DittoThing struct {
	ThingID    string          `json:"thingId"`
	Attributes DittoAttributes `json:"attributes"`
	Features   DittoFeatures   `json:"features"`
}

type DittoAttributes struct {
	Location struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		HeightM   float64 `json:"height_m"`
	} `json:"location"`
	Physical struct {
		Model string `json:"model"`
		Type  string `json:"type"`
	} `json:"physical"`
}

type DittoFeatures struct {
	Configuration struct {
		Properties struct {
			TransmitPowerDBm   float64 `json:"transmit_power_dbm"`
			MechanicalTilt     float64 `json:"mechanical_tilt"`
			AzimuthDeg         float64 `json:"azimuth_deg"`
			CarrierFrequencyHz float64 `json:"carrier_frequency_hz"`
			AdminState         string  `json:"admin_state"`
		} `json:"properties"`
	} `json:"configuration"`
	Status struct {
		Properties struct {
			OperationalState string `json:"operational_state"`
			ActiveUsers      int    `json:"active_users"`
		} `json:"properties"`
	} `json:"status"`
}

// ToDitto converts a transmitter into its Ditto thing.
func ToDitto(tx domain.Transmitter) DittoThing {
	var t DittoThing
	t.ThingID = "com.sionna:" + tx.ID
	t.Attributes.Location.Latitude = tx.Location.Lat
	t.Attributes.Location.Longitude = tx.Location.Lon
	t.Attributes.Location.HeightM = tx.Height
	t.Attributes.Physical.Model = tx.Model
	t.Attributes.Physical.Type = tx.Type

	cfg := &t.Features.Configuration.Properties
	cfg.TransmitPowerDBm = tx.PowerDBm
	cfg.MechanicalTilt = round2(tx.Tilt)
	cfg.AzimuthDeg = round2(tx.Azimuth)
	cfg.CarrierFrequencyHz = tx.Frequency
	cfg.AdminState = "enabled"

	t.Features.Status.Properties.OperationalState = "up"
	t.Features.Status.Properties.ActiveUsers = tx.ActiveUsers
	return t
}

// WriteDitto writes transmitters as an indented JSON array of Ditto things.
func WriteDitto(w io.Writer, txs []domain.Transmitter) error {
	things := make([]DittoThing, len(txs))
	for i, tx := range txs {
		things[i] = ToDitto(tx)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(things)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
