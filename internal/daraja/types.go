package daraja

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Transaction and command types sent to the network.
const (
	CommandCustomerPayBill   = "CustomerPayBillOnline"
	CommandCustomerBuyGoods  = "CustomerBuyGoodsOnline"
	TransactionTypePayBill   = "CustomerPayBillOnline"
	ResponseCodeAccepted     = "0"
	defaultTransactionDesc   = "Payment"
	maxAccountReferenceChars = 12
	maxTransactionDescChars  = 13
)

// Text is a JSON scalar that may arrive as a string, a number or null.
// The network is inconsistent about quoting, so every field that is only
// ever read as text uses this type. Numbers keep their literal digits.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*t = ""
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	default:
		*t = Text(data)
	}
	return nil
}

func (t Text) String() string { return string(t) }

// Int parses the value as an integer. ok is false when empty or malformed.
func (t Text) Int() (int, bool) {
	s := strings.TrimSpace(string(t))
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return 0, false
		}
		return int(f), true
	}
	return n, true
}

// TokenResponse is the OAuth client-credentials reply.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   Text   `json:"expires_in"`
}

// C2BSimulateRequest asks the sandbox to simulate a customer paying a till.
type C2BSimulateRequest struct {
	ShortCode     string `json:"ShortCode"`
	CommandID     string `json:"CommandID"`
	Amount        int64  `json:"Amount"`
	Msisdn        string `json:"Msisdn"`
	BillRefNumber string `json:"BillRefNumber"`
}

type C2BSimulateResponse struct {
	// The misspelt key is what the network sends.
	OriginatorConversationID string `json:"OriginatorCoversationID"`
	ConversationID           string `json:"ConversationID"`
	ResponseCode             Text   `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// STKPushRequest prompts the customer's handset to authorize a charge.
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        Text   `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

type STKQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// STKQueryResponse reports the state of a push request. ResultCode is empty
// while the customer has not yet answered.
type STKQueryResponse struct {
	ResponseCode        Text   `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          Text   `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// C2BConfirmation is the body posted to the confirmation URL.
type C2BConfirmation struct {
	TransactionType   string `json:"TransactionType"`
	TransID           string `json:"TransID"`
	TransTime         Text   `json:"TransTime"`
	TransAmount       Text   `json:"TransAmount"`
	BusinessShortCode Text   `json:"BusinessShortCode"`
	BillRefNumber     string `json:"BillRefNumber"`
	InvoiceNumber     string `json:"InvoiceNumber"`
	OrgAccountBalance Text   `json:"OrgAccountBalance"`
	ThirdPartyTransID string `json:"ThirdPartyTransID"`
	MSISDN            Text   `json:"MSISDN"`
	FirstName         string `json:"FirstName"`
}

// STKCallbackEnvelope is the body posted to the push callback URL.
type STKCallbackEnvelope struct {
	Body struct {
		STKCallback STKCallback `json:"stkCallback"`
	} `json:"Body"`
}

type STKCallback struct {
	MerchantRequestID string           `json:"MerchantRequestID"`
	CheckoutRequestID string           `json:"CheckoutRequestID"`
	ResultCode        Text             `json:"ResultCode"`
	ResultDesc        string           `json:"ResultDesc"`
	CallbackMetadata  CallbackMetadata `json:"CallbackMetadata"`
}

type CallbackMetadata struct {
	Item []MetadataItem `json:"Item"`
}

type MetadataItem struct {
	Name  string `json:"Name"`
	Value Text   `json:"Value"`
}

// Lookup returns the value of the first item called name, or "".
func (m CallbackMetadata) Lookup(name string) Text {
	for _, item := range m.Item {
		if item.Name == name {
			return item.Value
		}
	}
	return ""
}

// Acknowledgement is the reply the network expects from callback receivers.
type Acknowledgement struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

// truncate clips s to the field limits the network enforces.
func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// AccountReference clips a merchant reference to the accepted length.
func AccountReference(ref string) string { return truncate(ref, maxAccountReferenceChars) }

// TransactionDesc clips a description to the accepted length, defaulting
// empty descriptions.
func TransactionDesc(desc string) string {
	if strings.TrimSpace(desc) == "" {
		desc = defaultTransactionDesc
	}
	return truncate(desc, maxTransactionDescChars)
}
