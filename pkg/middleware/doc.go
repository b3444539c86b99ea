// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Bearerトークンの検証（JWTAuth）とスコープによる認可（RequireScope）、
// リクエストログ、パニックリカバリ、CORS設定を含む。
package middleware
