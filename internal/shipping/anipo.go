package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rgbgroup/infinity-backend/pkg/config"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/logger"
)

const (
	defaultWeightGrams = 100
	maxPhoneLen        = 12
)

// BarcodeRequest carries everything the carrier needs to label a parcel.
// Sum is the declared value in Toman; the wire carries IRR.
type BarcodeRequest struct {
	OrderNumber  int64
	ProvinceCode string
	ProvinceName string
	CityName     string
	Recipient    string
	PostalCode   string
	Phone        string
	Address      string
	WeightGrams  int
	BoxSizeID    int
	SumToman     int64
}

// BarcodeResult is the issued label plus the carrier's pricing breakdown in
// Toman.
type BarcodeResult struct {
	Barcode        string
	PostPriceToman int64
	TaxToman       int64
	BoxSizeID      int
}

// PriceRequest asks the carrier what a shipment would cost before issuing a
// label.
type PriceRequest struct {
	CityCode    int
	WeightGrams int
	SumToman    int64
}

// Client is the logistics collaborator consumed by the order lifecycle.
type Client interface {
	IssueBarcode(ctx context.Context, req BarcodeRequest) (*BarcodeResult, error)
	BarcodePrice(ctx context.Context, req PriceRequest) (int64, error)
	Remaining(ctx context.Context) (int, error)
}

// AnipoClient talks to the Anipo parcel panel. Every endpoint is an
// authenticated POST carrying the merchant keyword.
type AnipoClient struct {
	cfg    config.AnipoConfig
	client *http.Client
	logg   *logger.Logger
}

// NewAnipoClient builds the carrier client from config.
func NewAnipoClient(cfg config.AnipoConfig, logg *logger.Logger) *AnipoClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &AnipoClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logg:   logg,
	}
}

type barcodePriceRequest struct {
	Keyword   string            `json:"keyword"`
	OrderData barcodePriceOrder `json:"orderData"`
}

type barcodePriceOrder struct {
	City          int   `json:"city"`
	Weight        int   `json:"weight"`
	Sum           int64 `json:"sum"`
	IsNonStandard int   `json:"isnonstandard"`
	SMSService    int   `json:"smsservice"`
	PayTypeID     int   `json:"PayTypeID"`
}

type getBarcodeRequest struct {
	Keyword    string          `json:"keyword"`
	OrdersData getBarcodeOrder `json:"ordersData"`
}

type getBarcodeOrder struct {
	OrderID       int64  `json:"orderId"`
	Date          string `json:"date"`
	Time          string `json:"time"`
	ProvinceCode  string `json:"province_code"`
	ProvinceName  string `json:"province_name"`
	CityName      string `json:"city_name"`
	Name          string `json:"name"`
	Postcode      string `json:"postcode"`
	NationalCode  string `json:"national_code"`
	CallNumber    string `json:"call_number"`
	Address       string `json:"address"`
	Weight        int    `json:"weight"`
	BoxSizeID     int    `json:"boxSizeId,omitempty"`
	IsNonStandard int    `json:"isnonstandard"`
	Sum           int64  `json:"sum"`
}

type anipoEnvelope struct {
	Status  bool            `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	// remaining endpoint puts the count at the top level
	Remaining *int `json:"remaining"`
}

type barcodeData struct {
	PostPrice int64  `json:"postprice"`
	Tax       int64  `json:"tax"`
	Barcode   string `json:"barcode"`
	BoxSizeID int    `json:"boxSizeId"`
}

// IssueBarcode requests a postal label for the parcel.
func (c *AnipoClient) IssueBarcode(ctx context.Context, req BarcodeRequest) (*BarcodeResult, error) {
	if c.cfg.Keyword == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "anipo keyword is not configured")
	}
	weight := req.WeightGrams
	if weight <= 0 {
		weight = defaultWeightGrams
	}

	body := getBarcodeRequest{
		Keyword: c.cfg.Keyword,
		OrdersData: getBarcodeOrder{
			OrderID:      req.OrderNumber,
			ProvinceCode: req.ProvinceCode,
			ProvinceName: req.ProvinceName,
			CityName:     req.CityName,
			Name:         req.Recipient,
			Postcode:     req.PostalCode,
			CallNumber:   localPhone(req.Phone),
			Address:      req.Address,
			Weight:       weight,
			BoxSizeID:    req.BoxSizeID,
			Sum:          tomanToRial(req.SumToman),
		},
	}

	envelope, err := c.post(ctx, "/backend/api/getBarcode/", body)
	if err != nil {
		return nil, err
	}
	if !envelope.Status || len(envelope.Data) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "anipo refused barcode").
			WithDetails(map[string]any{"message": envelope.Message})
	}

	var data barcodeData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding anipo barcode data")
	}
	if data.Barcode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "anipo returned empty barcode")
	}
	return &BarcodeResult{
		Barcode:        data.Barcode,
		PostPriceToman: rialToToman(data.PostPrice),
		TaxToman:       rialToToman(data.Tax),
		BoxSizeID:      data.BoxSizeID,
	}, nil
}

// BarcodePrice quotes the shipping price in Toman for a city/weight pair.
func (c *AnipoClient) BarcodePrice(ctx context.Context, req PriceRequest) (int64, error) {
	if c.cfg.Keyword == "" {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "anipo keyword is not configured")
	}
	weight := req.WeightGrams
	if weight <= 0 {
		weight = 1
	}

	body := barcodePriceRequest{
		Keyword: c.cfg.Keyword,
		OrderData: barcodePriceOrder{
			City:   req.CityCode,
			Weight: weight,
			Sum:    tomanToRial(req.SumToman),
		},
	}

	envelope, err := c.post(ctx, "/backend/api/barcodePrice/", body)
	if err != nil {
		return 0, err
	}
	if !envelope.Status {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "anipo refused price quote").
			WithDetails(map[string]any{"message": envelope.Message})
	}

	var priceRial int64
	if err := json.Unmarshal(envelope.Data, &priceRial); err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding anipo price")
	}
	return rialToToman(priceRial), nil
}

// Remaining returns the merchant's unused barcode quota.
func (c *AnipoClient) Remaining(ctx context.Context) (int, error) {
	if c.cfg.Keyword == "" {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "anipo keyword is not configured")
	}
	envelope, err := c.post(ctx, "/backend/api/remaining/", map[string]string{"keyword": c.cfg.Keyword})
	if err != nil {
		return 0, err
	}
	if !envelope.Status || envelope.Remaining == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDependency, "anipo refused quota inquiry").
			WithDetails(map[string]any{"message": envelope.Message})
	}
	return *envelope.Remaining, nil
}

func (c *AnipoClient) post(ctx context.Context, path string, body any) (*anipoEnvelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding anipo request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building anipo request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if c.logg != nil {
			c.logg.Warn(ctx, "anipo request failed")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "calling anipo")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "anipo returned non-200").
			WithDetails(map[string]any{"status": resp.StatusCode, "path": path})
	}

	var envelope anipoEnvelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "decoding anipo response")
	}
	return &envelope, nil
}

// localPhone renders a phone number the way Anipo expects: local
// 0-prefixed digits, at most 12 characters.
func localPhone(raw string) string {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, raw)
	digits = strings.TrimPrefix(digits, "98")
	if digits != "" && !strings.HasPrefix(digits, "0") {
		digits = "0" + digits
	}
	if len(digits) > maxPhoneLen {
		digits = digits[:maxPhoneLen]
	}
	return digits
}

func tomanToRial(amountToman int64) int64 {
	if amountToman < 0 {
		return 0
	}
	return amountToman * 10
}

func rialToToman(amountRial int64) int64 {
	return amountRial / 10
}
