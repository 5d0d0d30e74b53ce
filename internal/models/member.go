package models

// MemberType 区分 CRM 成员的身份类别，决定其数据访问范围。
type MemberType string

const (
	MemberTypeAdmin  MemberType = "admin"  // 管理员，可见全部数据
	MemberTypeStaff  MemberType = "staff"  // 员工，可见自身子树
	MemberTypeAgent  MemberType = "agent"  // 代理，仅可见自身
	MemberTypeDirect MemberType = "direct" // 直客，仅可见自身
)

// Member 对应数据仓库中的 t_member 表，是访问范围判定的主表。
type Member struct {
	ID       int64  `gorm:"column:id;primaryKey"`
	Nickname string `gorm:"column:nickname"`
	Email    string `gorm:"column:email"`
	UserType string `gorm:"column:userType"` // admin / staff / agent / direct
	Admin    int    `gorm:"column:admin"`    // 1 表示管理员
}

func (Member) TableName() string {
	return "t_member"
}

// MemberRootPath 对应 t_member_root_path 表，记录成员在组织树中的路径。
// path 形如 "1,15,108"，员工的可见范围是以自身路径为前缀的全部子树成员。
type MemberRootPath struct {
	MemberID int64  `gorm:"column:member_id;primaryKey"`
	Path     string `gorm:"column:path"`
}

func (MemberRootPath) TableName() string {
	return "t_member_root_path"
}
