package confirmation

import (
	"gorm.io/gorm"

	"github.com/angelmondragon/otcsettle/pkg/redis"
)

// SelectStore prefers Redis when it is enabled and connected, and falls back
// to the database table otherwise.
func SelectStore(useRedis bool, client *redis.Client, db *gorm.DB) Store {
	if useRedis && client != nil {
		return NewRedisStore(client)
	}
	return NewSQLStore(db)
}
