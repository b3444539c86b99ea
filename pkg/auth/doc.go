// Package auth はBearerトークン（JWT）の検証を提供する。
//
// リモートのJWKSを取得・キャッシュするKeySetCache、署名と標準クレームを
// 検証するVerifier、検証結果をリクエストコンテキストで受け渡すための
// VerifiedTokenを含む。エラーはすべて種別（Kind）を持つ*Errorとして返す。
package auth
