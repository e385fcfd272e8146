package query

import (
	"encoding/base64"
	"encoding/json"

	"github.com/ternarybob/tessera/internal/models"
)

// continuationToken resumes a paginated query. It encodes the original
// query text plus the cumulative row offset. The token is opaque but
// unsigned; binding it to a caller's session is the hosting layer's job.
type continuationToken struct {
	Query  string `json:"query"`
	Offset int    `json:"offset"`
}

func encodeToken(token continuationToken) string {
	data, _ := json.Marshal(token)
	return base64.URLEncoding.EncodeToString(data)
}

func decodeToken(encoded string) (continuationToken, error) {
	var token continuationToken
	data, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return token, models.WrapError(models.KindArgument, err, "malformed continuation token")
	}
	if err := json.Unmarshal(data, &token); err != nil {
		return token, models.WrapError(models.KindArgument, err, "malformed continuation token")
	}
	if token.Query == "" || token.Offset < 0 {
		return token, models.NewError(models.KindArgument, "malformed continuation token")
	}
	return token, nil
}
