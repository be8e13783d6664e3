package cache

import (
	"strings"

	"github.com/identicore/identicore/pkg/cache/storage"
)

// Storage layout: records are grouped into one JSON object per
// (account, environment, record type), members keyed by the record's
// composite cache key. Identifier segments are hashed before becoming
// path segments so raw tenant and account ids never appear in listings.
//
//	accounts/<h(home)>/<h(env)>/accesstoken
//	accounts/<h(home)>/<h(env)>/refreshtoken
//	accounts/<h(home)>/<h(env)>/idtoken
//	accounts/<h(home)>/<h(env)>/account
//	appmetadata/<h(env)>
const (
	accountsPrefix    = "accounts"
	appMetadataPrefix = "appmetadata"

	bucketAccessToken  = "accesstoken"
	bucketRefreshToken = "refreshtoken"
	bucketIDToken      = "idtoken"
	bucketAccount      = "account"
)

func credentialBucketPath(homeAccountID, environment, bucket string) string {
	return accountsPrefix + "/" +
		storage.SafeSegment(strings.ToLower(homeAccountID)) + "/" +
		storage.SafeSegment(strings.ToLower(environment)) + "/" +
		bucket
}

func accountPrefixPath(homeAccountID string) string {
	return accountsPrefix + "/" + storage.SafeSegment(strings.ToLower(homeAccountID))
}

func appMetadataPath(environment string) string {
	return appMetadataPrefix + "/" + storage.SafeSegment(strings.ToLower(environment))
}
