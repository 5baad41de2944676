package model

import "fmt"

// UserType 是资料中的用户类型。
type UserType string

const (
	UserTypeUnspecified UserType = "unspecified"
	UserTypeRenter      UserType = "renter"
	UserTypeBuyer       UserType = "buyer"
	UserTypeOwner       UserType = "owner"
)

// ParseUserType 解析用户类型，空字符串视为未指定。
func ParseUserType(s string) (UserType, error) {
	switch s {
	case "", string(UserTypeUnspecified):
		return UserTypeUnspecified, nil
	case string(UserTypeRenter):
		return UserTypeRenter, nil
	case string(UserTypeBuyer):
		return UserTypeBuyer, nil
	case string(UserTypeOwner):
		return UserTypeOwner, nil
	default:
		return "", fmt.Errorf("unknown user type %q", s)
	}
}

// Profile 是经过身份服务认证的调用方。匿名调用方没有 Profile。
type Profile struct {
	UserID string   `json:"userId"`
	Admin  bool     `json:"isAdmin"`
	Type   UserType `json:"userType"`
}

// CanBrowseAllConversations 报告该调用方能否查看所有用户的会话。
func (p *Profile) CanBrowseAllConversations() bool {
	return p != nil && p.Admin
}
