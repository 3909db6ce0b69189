package merge

import (
	"encoding/json"

	"github.com/NahomAnteneh/oxen/internal/kvstore"
)

func putConflict(kv *kvstore.Store, c Conflict) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return kv.Put([]byte(c.Path), data)
}

func decodeConflict(data []byte) (Conflict, error) {
	var c Conflict
	err := json.Unmarshal(data, &c)
	return c, err
}
